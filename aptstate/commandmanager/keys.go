package commandmanager

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHKeyManager interface {
	ReadPrivateKeys(keyPassphrase string) ([]ssh.Signer, error)
}

type FileSSHKeyManager struct {
	// Dir defaults to $HOME/.ssh.
	Dir string
}

type AgentSSHKeyManager struct{}

func (km AgentSSHKeyManager) ReadPrivateKeys(_ string) ([]ssh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("could not connect to SSH agent: %w", err)
	}
	defer conn.Close()

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		return nil, fmt.Errorf("could not get signers from SSH agent: %w", err)
	}

	return signers, nil
}

func (km FileSSHKeyManager) ReadPrivateKeys(keyPassphrase string) ([]ssh.Signer, error) {
	dir := km.Dir
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".ssh")
	}

	files, err := filepath.Glob(filepath.Join(dir, "id_*"))
	if err != nil {
		return nil, err
	}

	signers := []ssh.Signer{}
	for _, file := range files {
		if strings.HasSuffix(file, ".pub") {
			continue
		}

		keyBytes, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}

		var signer ssh.Signer
		if keyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(keyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			// not ours to unlock, try the next one
			continue
		}

		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("no usable private key in %s", dir)
	}

	return signers, nil
}

// hostKeyCallback checks against a known_hosts file when one is configured.
func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}

// RealSSHClient dials with golang.org/x/crypto/ssh.
type RealSSHClient struct{}

func (RealSSHClient) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	cfg := *config
	cfg.Timeout = timeout
	return ssh.Dial(network, addr, &cfg)
}
