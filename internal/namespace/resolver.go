// Package namespace resolves which Namespace a caller's operation runs
// under: walking up from a working directory to find a project root,
// parsing an optional project manifest for a friendlier name, and folding
// in an active session id from the environment.
package namespace

import (
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/scrypster/memorycore/pkg/types"
)

// RepoMarkers are directory entries that, when found in a directory, mark
// it as a project root. Checked in order; the first match wins.
var RepoMarkers = []string{".git", ".hg", ".memento", "go.mod"}

// SessionEnvVar is the environment variable carrying an active session id.
// When set, Resolve returns a Session namespace rather than Project/Global.
const SessionEnvVar = "MEMORY_SESSION_ID"

// ProjectEnvVar overrides the resolved project name outright, bypassing
// the directory walk (useful for agents pinned to a working directory that
// doesn't match their logical project).
const ProjectEnvVar = "MEMORY_PROJECT"

// Resolver resolves a Namespace from a starting directory and the process
// environment. It holds no mutable state; every call is independent.
type Resolver struct {
	// Getenv defaults to os.Getenv; tests substitute a fake.
	Getenv func(string) string
}

// NewResolver returns a Resolver wired to the real process environment.
func NewResolver() *Resolver {
	return &Resolver{Getenv: os.Getenv}
}

func (r *Resolver) getenv(key string) string {
	if r.Getenv != nil {
		return r.Getenv(key)
	}
	return os.Getenv(key)
}

// Resolve picks the namespace for an operation starting at startDir:
//  1. Walk parent directories up to the filesystem root searching for a
//     repo marker.
//  2. If found, the project name is the basename of the repo root (or the
//     manifest override); otherwise there is no project.
//  3. Parse an optional project manifest to override name/description.
//  4. If an active session id is present in the environment, return
//     Session{project, session_id}; else Project{name}; else Global.
func (r *Resolver) Resolve(startDir string) (Resolution, error) {
	root, found, walkErr := FindRepoRoot(startDir)
	if walkErr != nil {
		return Resolution{}, walkErr
	}

	res := Resolution{}
	if !found {
		res.Namespace = types.Global()
		return res, nil
	}

	project := filepath.Base(root)
	manifest, manErr := ParseManifest(root)
	if manErr == nil && manifest.Name != "" {
		project = manifest.Name
	}
	res.Manifest = manifest
	res.ProjectRoot = root

	if override := r.getenv(ProjectEnvVar); override != "" {
		project = override
	}

	if sessionID := r.getenv(SessionEnvVar); sessionID != "" {
		res.Namespace = types.SessionNamespace(project, sessionID)
		return res, nil
	}

	res.Namespace = types.ProjectNamespace(project)
	return res, nil
}

// Resolution is the outcome of a namespace resolution: the namespace plus
// the context that produced it, useful for diagnostics and for namespace
// overview summaries.
type Resolution struct {
	Namespace   types.Namespace
	ProjectRoot string
	Manifest    Manifest
}

// FindRepoRoot walks parent directories starting at dir, up to the
// filesystem root, looking for any of RepoMarkers. It returns the first
// directory containing a marker, or found=false if none is found before
// reaching the filesystem root.
func FindRepoRoot(dir string) (root string, found bool, err error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false, err
	}

	cur := abs
	for {
		for _, marker := range RepoMarkers {
			if _, statErr := os.Stat(filepath.Join(cur, marker)); statErr == nil {
				return cur, true, nil
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false, nil
		}
		cur = parent
	}
}

// sessionIDCharset is the random-suffix alphabet for NewSessionID.
const sessionIDCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewSessionID returns a session id in the format session_<yyyymmdd>_<rand>.
// Uniqueness is guaranteed by an 8-character random suffix, not by
// coordination with any other session, so two calls in the same process in
// the same nanosecond still can't collide in practice.
func NewSessionID(now time.Time, rng *rand.Rand) string {
	if rng == nil {
		rng = rand.New(rand.NewSource(now.UnixNano()))
	}
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = sessionIDCharset[rng.Intn(len(sessionIDCharset))]
	}
	return "session_" + now.Format("20060102") + "_" + string(suffix)
}
