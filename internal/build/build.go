package build

import "strings"

var (
	Version = "dev"
	AppName = "Kannon"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
