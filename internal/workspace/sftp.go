package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sftpFS backs the workspace with an SFTP server, an alternative to a
// mounted POSIX volume or an S3 bucket.
//
// URL shape: sftp://user@host:port/root/path
type sftpFS struct {
	client *sftp.Client
	conn   *ssh.Client
	root   string
}

func newSFTPFS(u *url.URL) (*sftpFS, error) {
	host := u.Host
	if u.Port() == "" {
		host = u.Hostname() + ":22"
	}

	user := u.User.Username()
	if user == "" {
		user = "kannon"
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{sftpAuthMethod()},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is deployment-specific
	}

	conn, err := ssh.Dial("tcp", host, config)
	if err != nil {
		return nil, fmt.Errorf("workspace: sftp dial %q: %w", host, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("workspace: sftp handshake with %q: %w", host, err)
	}

	return &sftpFS{client: client, conn: conn, root: u.Path}, nil
}

// sftpAuthMethod reads a private key from SSH_PRIVATE_KEY_PATH, keeping
// secrets out of config files by indirecting through an env var.
func sftpAuthMethod() ssh.AuthMethod {
	keyPath := os.Getenv("SSH_PRIVATE_KEY_PATH")
	if keyPath == "" {
		return ssh.Password(os.Getenv("SSH_PASSWORD"))
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return ssh.Password(os.Getenv("SSH_PASSWORD"))
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return ssh.Password(os.Getenv("SSH_PASSWORD"))
	}
	return ssh.PublicKeys(signer)
}

func (f *sftpFS) resolve(key string) string {
	return path.Join(f.root, key)
}

// ResolvedPath returns the absolute remote path for key on the SFTP server.
func (f *sftpFS) ResolvedPath(key string) string {
	return f.resolve(key)
}

func (f *sftpFS) Put(_ context.Context, key string, data []byte) error {
	dst := f.resolve(key)
	if err := f.client.MkdirAll(path.Dir(dst)); err != nil {
		return fmt.Errorf("workspace: sftp mkdir for %q: %w", key, err)
	}
	file, err := f.client.Create(dst)
	if err != nil {
		return fmt.Errorf("workspace: sftp create %q: %w", key, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("workspace: sftp write %q: %w", key, err)
	}
	return nil
}

func (f *sftpFS) Get(_ context.Context, key string) ([]byte, error) {
	file, err := f.client.Open(f.resolve(key))
	if err != nil {
		return nil, fmt.Errorf("workspace: sftp open %q: %w", key, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("workspace: sftp read %q: %w", key, err)
	}
	return data, nil
}

func (f *sftpFS) Exists(_ context.Context, key string) (bool, error) {
	_, err := f.client.Stat(f.resolve(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("workspace: sftp stat %q: %w", key, err)
}

// Close releases the underlying SFTP session and SSH connection.
func (f *sftpFS) Close() error {
	f.client.Close()
	return f.conn.Close()
}
