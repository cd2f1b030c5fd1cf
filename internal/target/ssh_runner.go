package target

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// SSHOptions mirrors the teacher's host.SSHOptions shape (user, hostname,
// port, key-file-then-key-dir-then-agent auth fallback chain), narrowed to
// what xJet needs to start a long-lived remote runner process and pipe
// wire frames over its stdin/stdout rather than run one-shot commands.
type SSHOptions struct {
	User     string
	Hostname string
	Port     int

	KeyFile string
	KeyDir  string

	ConnectTimeout time.Duration

	// RunnerCommand is the remote command line that starts an xJet runner
	// process reading ACTION frames on stdin and writing frames on stdout
	// (e.g. "xjet serve"). Defaults to "xjet serve" when empty.
	RunnerCommand string
}

const defaultSSHPort = 22

// SSHRunner is a Runner transport that starts the configured remote
// command over SSH and exchanges wire frames over its stdin/stdout (spec
// §6 "Host <-> Runner transport").
type SSHRunner struct {
	name string
	opts SSHOptions

	mu      sync.Mutex
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
}

// NewSSHRunner builds an SSHRunner identified by name.
func NewSSHRunner(name string, opts SSHOptions) *SSHRunner {
	return &SSHRunner{name: name, opts: opts}
}

func (r *SSHRunner) Name() string { return r.name }

// Connect dials the SSH server, starts RunnerCommand, and pumps its stdout
// into receive, chunk by chunk, until the session closes.
func (r *SSHRunner) Connect(ctx context.Context, receive func([]byte)) error {
	methods, err := sshAuthMethods(r.opts)
	if err != nil {
		return fmt.Errorf("ssh auth for %s: %w", r.name, err)
	}
	port := r.opts.Port
	if port == 0 {
		port = defaultSSHPort
	}
	cfg := &ssh.ClientConfig{
		User:            r.opts.User,
		Auth:            methods,
		Timeout:         r.opts.ConnectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", r.opts.Hostname, port), cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.opts.Hostname, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("open session on %s: %w", r.opts.Hostname, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdin pipe on %s: %w", r.opts.Hostname, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdout pipe on %s: %w", r.opts.Hostname, err)
	}

	cmd := r.opts.RunnerCommand
	if cmd == "" {
		cmd = "xjet serve"
	}
	if err := session.Start(cmd); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("start %q on %s: %w", cmd, r.opts.Hostname, err)
	}

	r.mu.Lock()
	r.client = client
	r.session = session
	r.stdin = stdin
	r.mu.Unlock()

	go pumpFrames(stdout, receive)

	return nil
}

// Dispatch writes payload to the remote command's stdin.
func (r *SSHRunner) Dispatch(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	stdin := r.stdin
	r.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("ssh runner %s: not connected", r.name)
	}
	_, err := stdin.Write(payload)
	return err
}

// Disconnect closes the session and the underlying SSH connection.
func (r *SSHRunner) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	session := r.session
	client := r.client
	r.mu.Unlock()
	if session != nil {
		session.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

// sshAuthMethods builds an auth method chain from an unencrypted key file,
// a key directory (searched the same way the teacher's getSSHAuthMethods
// does, for the standard id_rsa/id_ed25519/etc. filenames), and a running
// ssh-agent, in that order — grounded on host.getSSHAuthMethods.
func sshAuthMethods(o SSHOptions) ([]ssh.AuthMethod, error) {
	var signers []ssh.Signer

	if o.KeyFile != "" {
		s, err := readSSHKey(o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", o.KeyFile, err)
		}
		signers = append(signers, s)
	}
	if o.KeyDir != "" {
		for _, fn := range []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"} {
			p := filepath.Join(o.KeyDir, fn)
			if p == o.KeyFile {
				continue
			}
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if s, err := readSSHKey(p); err == nil {
				signers = append(signers, s)
			}
		}
	}

	var methods []ssh.AuthMethod
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	return methods, nil
}

func readSSHKey(path string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(b)
}

// pumpFrames reads r through a buffered reader and hands every read chunk
// to receive for frame reassembly — the Assembler (not this function) is
// what actually finds
// frame boundaries, since a remote command's stdout may split a frame
// across reads.
func pumpFrames(r io.Reader, receive func([]byte)) {
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 64*1024)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			receive(chunk)
		}
		if err != nil {
			return
		}
	}
}
