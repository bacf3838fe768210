package recipe

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/config"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/dserror"
)

// datasetDirEnv overrides the default search path, colon-separated,
// matching ECOMMERCE_DATASET_DIR in loader.py.
const datasetDirEnv = "ECOMMERCE_DATASET_DIR"

var defaultFolders = []string{"./dataset", "{{module}}/dataset"}

// Repository locates, parses, and caches recipe documents for one named
// application, grounded on DatasetLoaderFileSystem in loader.py.
type Repository struct {
	application string
	folder      string

	mu    sync.RWMutex
	cache map[string]map[string]*Recipe // entity -> dataset -> recipe
}

// NewRepository resolves a search path for application from cfg's
// "<prefix>.dataset.paths" (prefix is "db" for the default application,
// matching createLoader's prefix computation), trying folders in order
// and picking the first that exists. baseDir substitutes for
// "{{module}}", matching os.path.abspath(os.path.dirname(__file__)) in
// the original: here, the directory the caller considers the install
// location (typically filepath.Dir(os.Executable())).
func NewRepository(application string, cfg *config.Config, baseDir string) (*Repository, error) {
	if application == "" {
		application = "default"
	}
	prefix := "db.dataset"
	if application != "default" {
		prefix = application + ".dataset"
	}

	folders := defaultFolders
	if dirs := os.Getenv(datasetDirEnv); dirs != "" {
		folders = strings.Split(dirs, ":")
	} else if cfg != nil {
		if paths := cfg.GetMulti(prefix, "paths", nil); paths != nil {
			folders = paths
		}
	}

	var folder string
	for _, f := range folders {
		resolved := strings.ReplaceAll(f, "{{module}}", baseDir)
		if info, err := os.Stat(resolved); err == nil && info.IsDir() {
			folder = resolved
			break
		}
	}
	if folder == "" {
		return nil, &dserror.ConfigurationError{Msg: "dataset repository cannot find a suitable folder from " + strings.Join(folders, ":")}
	}

	return &Repository{application: application, folder: folder, cache: map[string]map[string]*Recipe{}}, nil
}

// Get returns the parsed recipe for entity/dataset, memoizing it for
// the process lifetime, matching DatasetLoader.get's per-application
// cache.
func (r *Repository) Get(entity, dataset string) (*Recipe, error) {
	r.mu.RLock()
	if byDataset, ok := r.cache[entity]; ok {
		if rec, ok := byDataset[dataset]; ok {
			r.mu.RUnlock()
			return rec, nil
		}
	}
	r.mu.RUnlock()

	raw, err := r.load(entity, dataset)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &dserror.RecipeNotFound{Application: r.application, Entity: entity, Dataset: dataset}
	}

	rec, err := Parse(entity, dataset, raw)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.cache[entity]; !ok {
		r.cache[entity] = map[string]*Recipe{}
	}
	// idempotent install: if another goroutine raced us, last writer
	// wins, matching spec.md §5's locking discipline.
	r.cache[entity][dataset] = rec
	r.mu.Unlock()

	return rec, nil
}

// load tries the four-candidate lookup order from spec.md §4.5.
func (r *Repository) load(entity, dataset string) ([]byte, error) {
	specific := filepath.Join(r.folder, entity, dataset)
	generic := filepath.Join(r.folder, "__all__", dataset)
	candidates := []string{specific + ".yaml", specific + ".json", generic + ".yaml", generic + ".json"}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, nil
}
