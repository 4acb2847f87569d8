package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/schaermu/posyncd/internal/notify"
)

// OriginName is the only remote posyncd manages
const OriginName = "origin"

const (
	lockFileName   = "posyncd.lock"
	lockRetryDelay = 50 * time.Millisecond

	defaultCommitterName  = "posyncd"
	defaultCommitterEmail = "posyncd@localhost"
)

var (
	// ErrMergeAborted is returned when merging the upstream branch failed and
	// the merge was rolled back
	ErrMergeAborted = errors.New("merge aborted")
	// ErrBlobNotFound is returned when a path is not part of the HEAD tree
	ErrBlobNotFound = errors.New("blob not found in HEAD tree")
)

// Presence reports whether an idempotent ensure-operation found existing
// state or had to create or change it
type Presence int

const (
	Found Presence = iota
	Created
	Repointed
)

func (p Presence) String() string {
	switch p {
	case Found:
		return "found"
	case Created:
		return "created"
	case Repointed:
		return "repointed"
	default:
		return fmt.Sprintf("presence(%d)", int(p))
	}
}

// Blob identifies the committed content of one file
type Blob struct {
	Path     string
	Revision string // blob hash, used as content-revision marker
}

// Options configures a Gateway
type Options struct {
	// Name identifies the repository in logs and notifications
	Name           string
	SSHKeyFile     string
	HTTPSTokenFile string
	CommitterName  string
	CommitterEmail string
	Notifier       notify.Notifier
	Logger         *slog.Logger
}

// Gateway wraps a single working tree. Object lookups go through go-git;
// mutations shell out to the git command and are serialized per repository.
type Gateway struct {
	dir            string
	name           string
	repo           *gogit.Repository
	sshKeyFile     string
	httpsTokenFile string
	committerName  string
	committerEmail string
	notifier       notify.Notifier
	logger         *slog.Logger
}

// Open opens the repository at dir, initializing an empty one when none
// exists yet
func Open(dir string, opts Options) (*Gateway, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}

	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", dir, err)
	}

	g := &Gateway{
		dir:            dir,
		name:           opts.Name,
		repo:           repo,
		sshKeyFile:     opts.SSHKeyFile,
		httpsTokenFile: opts.HTTPSTokenFile,
		committerName:  opts.CommitterName,
		committerEmail: opts.CommitterEmail,
		notifier:       opts.Notifier,
		logger:         opts.Logger,
	}
	if g.name == "" {
		g.name = dir
	}
	if g.committerName == "" {
		g.committerName = defaultCommitterName
	}
	if g.committerEmail == "" {
		g.committerEmail = defaultCommitterEmail
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	return g, nil
}

// Dir returns the working tree directory
func (g *Gateway) Dir() string {
	return g.dir
}

// Configure ensures origin points at remoteURL and fetches it. Fetch failures
// are logged and leave the local state as it was.
func (g *Gateway) Configure(ctx context.Context, remoteURL string) (Presence, error) {
	unlock, err := g.lock(ctx)
	if err != nil {
		return Found, err
	}
	defer unlock()

	presence, err := g.ensureOrigin(remoteURL)
	if err != nil {
		return presence, fmt.Errorf("failed to configure remote %s: %w", OriginName, err)
	}
	if presence != Found {
		g.logger.Info("configured remote", "repo", g.name, "remote", OriginName, "result", presence)
	}

	g.logger.Info("updating repo", "repo", g.name)
	if err := g.fetch(ctx); err != nil {
		g.logger.Error("failed to update git repo", "repo", g.name, "error", err)
	}
	return presence, nil
}

func (g *Gateway) ensureOrigin(remoteURL string) (Presence, error) {
	remote, err := g.repo.Remote(OriginName)
	if errors.Is(err, gogit.ErrRemoteNotFound) {
		_, err := g.repo.CreateRemote(&config.RemoteConfig{
			Name: OriginName,
			URLs: []string{remoteURL},
		})
		if err != nil {
			return Found, err
		}
		return Created, nil
	}
	if err != nil {
		return Found, err
	}

	if urls := remote.Config().URLs; len(urls) == 1 && urls[0] == remoteURL {
		return Found, nil
	}

	cfg, err := g.repo.Config()
	if err != nil {
		return Found, err
	}
	cfg.Remotes[OriginName].URLs = []string{remoteURL}
	if err := g.repo.SetConfig(cfg); err != nil {
		return Found, err
	}
	return Repointed, nil
}

// EnsureBranch makes sure a local branch tracking origin/<branch> exists and
// checks it out
func (g *Gateway) EnsureBranch(ctx context.Context, branch string) (Presence, error) {
	unlock, err := g.lock(ctx)
	if err != nil {
		return Found, err
	}
	defer unlock()

	presence := Found
	_, err = g.repo.Reference(plumbing.NewBranchReferenceName(branch), false)
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		if _, err := g.run(ctx, "branch", "--track", branch, OriginName+"/"+branch); err != nil {
			return Found, fmt.Errorf("git branch failed: %w", err)
		}
		presence = Created
	case err != nil:
		return Found, fmt.Errorf("failed to resolve branch %s: %w", branch, err)
	}

	if _, err := g.run(ctx, "checkout", branch); err != nil {
		return presence, fmt.Errorf("git checkout failed: %w", err)
	}
	return presence, nil
}

// UpdateBranch fetches origin and merges origin/<branch> into the current
// branch. A failed merge is aborted, reported to the operators and returned
// as ErrMergeAborted; the working tree is left as it was before the merge.
func (g *Gateway) UpdateBranch(ctx context.Context, branch string) error {
	unlock, err := g.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	g.logger.Info("pulling from remote repo", "repo", g.name)
	if err := g.fetch(ctx); err != nil {
		g.logger.Error("failed to update git repo", "repo", g.name, "error", err)
	}

	_, mergeErr := g.run(ctx, "merge", "--no-edit", OriginName+"/"+branch)
	if mergeErr == nil {
		g.logger.Info("merged remote into repo", "repo", g.name)
		return nil
	}

	// merge failures are not cancellable: the tree must be restored
	cleanupCtx := context.WithoutCancel(ctx)
	status, err := g.run(cleanupCtx, "status")
	if err != nil {
		status = fmt.Sprintf("(status unavailable: %v)", err)
	}
	if _, err := g.run(cleanupCtx, "merge", "--abort"); err != nil {
		g.logger.Debug("merge abort had nothing to do", "repo", g.name, "error", err)
	}

	g.logger.Warn("failed merge on repo", "repo", g.name, "error", mergeErr)
	msg := fmt.Sprintf("Error:\n%s\n\nStatus:\n%s", mergeErr, status)
	notify.Send(cleanupCtx, g.notifier, g.logger, "failed merge on repo "+g.name, msg)

	return fmt.Errorf("%w: %s: %v", ErrMergeAborted, g.name, mergeErr)
}

// Status returns the porcelain status of path, empty when unchanged
func (g *Gateway) Status(ctx context.Context, path string) (string, error) {
	out, err := g.run(ctx, "status", "--porcelain", "--", path)
	if err != nil {
		return "", fmt.Errorf("git status failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Commit commits exactly path with the given author identity
// ("Name <email>"). It returns false without touching the repository when
// path has no changes.
func (g *Gateway) Commit(ctx context.Context, path, author, message string) (bool, error) {
	unlock, err := g.lock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	status, err := g.Status(ctx, path)
	if err != nil {
		return false, err
	}
	if status == "" {
		// No changes to commit
		return false, nil
	}

	g.logger.Info("committing", "repo", g.name, "file", path, "author", author)
	if _, err := g.run(ctx, "add", "--", path); err != nil {
		return false, fmt.Errorf("git add failed: %w", err)
	}
	if _, err := g.run(ctx, "commit", "--author", author, "-m", message, "--", path); err != nil {
		return false, fmt.Errorf("git commit failed: %w", err)
	}
	return true, nil
}

// Blob returns the blob of path in the HEAD tree
func (g *Gateway) Blob(path string) (Blob, error) {
	tree, err := g.headTree()
	if err != nil {
		return Blob{}, err
	}
	entry, err := tree.FindEntry(filepath.ToSlash(path))
	if err != nil {
		return Blob{}, fmt.Errorf("%w: %s: %v", ErrBlobNotFound, path, err)
	}
	return Blob{Path: path, Revision: entry.Hash.String()}, nil
}

// Head returns the commit hash HEAD points at
func (g *Gateway) Head() (string, error) {
	ref, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

func (g *Gateway) headTree() (*object.Tree, error) {
	ref, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("%w: repository has no commits", ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := g.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD tree: %w", err)
	}
	return tree, nil
}

// lock takes the per-repository mutation lock. Every call opens its own lock
// file handle so concurrent gateways on the same directory exclude each other.
func (g *Gateway) lock(ctx context.Context) (func(), error) {
	fl := flock.New(filepath.Join(g.dir, ".git", lockFileName))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock repository %s: %w", g.name, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock repository %s", g.name)
	}
	return func() {
		_ = fl.Unlock()
	}, nil
}

func (g *Gateway) fetch(ctx context.Context) error {
	remote, err := g.repo.Remote(OriginName)
	if err != nil {
		return fmt.Errorf("failed to resolve remote: %w", err)
	}
	var url string
	if urls := remote.Config().URLs; len(urls) > 0 {
		url = urls[0]
	}

	cmd := g.command(ctx, "fetch", OriginName)
	if err := g.configureAuth(cmd, url); err != nil {
		return err
	}
	if _, err := g.runCommand(cmd); err != nil {
		return fmt.Errorf("git fetch failed: %w", err)
	}
	return nil
}

func (g *Gateway) run(ctx context.Context, args ...string) (string, error) {
	return g.runCommand(g.command(ctx, args...))
}

// command builds a git invocation inside the working tree with a fixed
// committer identity
func (g *Gateway) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.dir}, args...)...)
	cmd.Args = insertGitFlags(cmd.Args,
		"-c", "user.name="+g.committerName,
		"-c", "user.email="+g.committerEmail,
	)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd
}

// configureAuth sets up authentication for git operations
func (g *Gateway) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if g.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(g.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if g.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(g.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// The token travels in the environment and is read by an inline
		// credential helper, never in the command line.
		cmd.Env = append(cmd.Env, "POSYNCD_GIT_TOKEN="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$POSYNCD_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns its output, or an error carrying
// the combined output on failure
func (g *Gateway) runCommand(cmd *exec.Cmd) (string, error) {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}
