package childjob

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var validJobName = regexp.MustCompile(`^[a-z0-9-]{1,63}$`)

func TestGenJobName_IsValidAndBounded(t *testing.T) {
	name := GenJobName("kannon-job")
	assert.True(t, validJobName.MatchString(name), "name %q does not match DNS-subdomain rules", name)
	assert.LessOrEqual(t, len(name), 63)
	assert.True(t, strings.HasPrefix(name, "kannon-job-"))
}

func TestGenJobName_SanitizesUnderscoresAndCase(t *testing.T) {
	name := GenJobName("Long_UNDERSCORED_Prefix_With_Many_Words_That_Keeps_Going_On")
	assert.NotContains(t, name, "_")
	assert.Equal(t, strings.ToLower(name), name)
	assert.LessOrEqual(t, len(name), 63)
}

func TestGenJobName_HasTimestampAndRandomSuffix(t *testing.T) {
	name := GenJobName("p")
	parts := strings.Split(name, "-")
	// p-<14 digit timestamp>-<3 digit rand>
	assert.GreaterOrEqual(t, len(parts), 3)
	last := parts[len(parts)-1]
	assert.Len(t, last, 3)
}
