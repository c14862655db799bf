package ml

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"flight-delay-demo/internal/common"
	"flight-delay-demo/internal/features"

	"github.com/rs/zerolog/log"
)

// ErrArtifactMissing is returned when a required artifact is not configured,
// cannot be downloaded or does not exist.
var ErrArtifactMissing = errors.New("required artifact missing")

// ErrArtifactMismatch is returned when a model expects a different number
// of features than the feature list it is scored with.
var ErrArtifactMismatch = errors.New("artifact feature count mismatch")

// Artifact roles, used in errors, logs and Bundle.Sources.
const (
	RoleTreeModel       = "tree_model"
	RoleTreeThreshold   = "tree_threshold"
	RoleTreeFeatures    = "tree_features"
	RoleLinearModel     = "linear_model"
	RoleLinearThreshold = "linear_threshold"
	RoleLinearFeatures  = "linear_features"
	RoleScaler          = "scaler"
)

// ArtifactConfig locates the model artifacts. Paths may be local files or
// http(s) URLs.
type ArtifactConfig struct {
	TreeModelPath       string
	TreeThresholdPath   string
	TreeFeaturesPath    string
	LinearModelPath     string
	LinearThresholdPath string
	LinearFeaturesPath  string
	ScalerPath          string

	CacheDir        string
	DownloadTimeout time.Duration

	// DefaultLinearThreshold applies when the linear threshold artifact is
	// absent or unreadable.
	DefaultLinearThreshold float64

	Bridge BridgeConfig
}

// Bundle is the loaded model context. It is not modified after LoadBundle
// returns and may be shared between goroutines.
type Bundle struct {
	Tree            Classifier
	TreeThreshold   float64
	TreeFeatures    features.Schema
	Linear          Classifier
	LinearThreshold float64
	LinearFeatures  features.Schema
	Scaler          features.Transformer

	// Sources maps artifact roles to the local files they were loaded from.
	Sources  map[string]string
	LoadedAt time.Time
}

// PrimarySchema is the schema the tree model is scored with: the tree
// feature list, else the linear one, else nil.
func (b *Bundle) PrimarySchema() features.Schema {
	if b.TreeFeatures != nil {
		return b.TreeFeatures
	}
	return b.LinearFeatures
}

// ModelInfo describes one loaded model.
type ModelInfo struct {
	Name         string   `json:"name"`
	Source       string   `json:"source"`
	Threshold    float64  `json:"threshold"`
	Features     []string `json:"features,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// BundleInfo is the serializable summary of a Bundle.
type BundleInfo struct {
	Tree          ModelInfo `json:"tree"`
	Linear        ModelInfo `json:"linear"`
	Scaler        string    `json:"scaler,omitempty"`
	PrimarySchema []string  `json:"primary_schema,omitempty"`
	LoadedAt      time.Time `json:"loaded_at"`
}

// Info summarizes the bundle.
func (b *Bundle) Info() BundleInfo {
	info := BundleInfo{
		Tree: ModelInfo{
			Name:         b.Tree.Name(),
			Source:       b.Sources[RoleTreeModel],
			Threshold:    b.TreeThreshold,
			Features:     b.TreeFeatures,
			Capabilities: capabilities(b.Tree),
		},
		Linear: ModelInfo{
			Name:         b.Linear.Name(),
			Source:       b.Sources[RoleLinearModel],
			Threshold:    b.LinearThreshold,
			Features:     b.LinearFeatures,
			Capabilities: capabilities(b.Linear),
		},
		PrimarySchema: b.PrimarySchema(),
		LoadedAt:      b.LoadedAt,
	}
	if b.Scaler != nil {
		info.Scaler = b.Sources[RoleScaler]
	}
	return info
}

func capabilities(c Classifier) []string {
	caps := []string{"predict_proba"}
	if _, ok := c.(LinearModel); ok {
		caps = append(caps, "coefficients")
	}
	if _, ok := c.(ImportanceModel); ok {
		caps = append(caps, "feature_importances")
	}
	if _, ok := c.(Attributor); ok {
		caps = append(caps, "attributions")
	}
	return caps
}

type artifactKind int

const (
	kindUnsupported artifactKind = iota
	kindJSON
	kindText
	kindJoblib
)

func kindOf(path string) artifactKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kindJSON
	case ".txt":
		return kindText
	case ".joblib", ".pkl", ".pickle":
		return kindJoblib
	default:
		return kindUnsupported
	}
}

type loader struct {
	cfg     ArtifactConfig
	fetcher *Fetcher
	bridge  *Bridge
	metrics MetricsInterface
	sources map[string]string
}

// LoadBundle loads every configured artifact. A missing or unreadable tree
// model, tree threshold or linear model fails the load; the remaining
// artifacts are optional and fall back with a warning.
func LoadBundle(ctx context.Context, cfg ArtifactConfig, metrics MetricsInterface) (*Bundle, error) {
	if cfg.DefaultLinearThreshold == 0 {
		cfg.DefaultLinearThreshold = common.DefaultLinearThreshold
	}
	l := &loader{
		cfg:     cfg,
		fetcher: NewFetcher(cfg.CacheDir, cfg.DownloadTimeout, metrics),
		metrics: metrics,
		sources: make(map[string]string),
	}
	b := &Bundle{Sources: l.sources, LoadedAt: time.Now()}

	var err error
	if b.Tree, err = l.requiredModel(ctx, RoleTreeModel, cfg.TreeModelPath); err != nil {
		return nil, err
	}
	if b.TreeThreshold, err = l.requiredThreshold(ctx, RoleTreeThreshold, cfg.TreeThresholdPath); err != nil {
		return nil, err
	}
	if b.Linear, err = l.requiredModel(ctx, RoleLinearModel, cfg.LinearModelPath); err != nil {
		return nil, err
	}

	b.LinearThreshold = l.optionalThreshold(ctx, RoleLinearThreshold, cfg.LinearThresholdPath, cfg.DefaultLinearThreshold)
	b.TreeFeatures = l.optionalFeatures(ctx, RoleTreeFeatures, cfg.TreeFeaturesPath)
	b.LinearFeatures = l.optionalFeatures(ctx, RoleLinearFeatures, cfg.LinearFeaturesPath)
	b.Scaler = l.optionalScaler(ctx, cfg.ScalerPath)

	if err := l.checkWidths(b); err != nil {
		return nil, err
	}

	log.Info().
		Str("tree", b.Tree.Name()).
		Float64("tree_threshold", b.TreeThreshold).
		Int("tree_features", len(b.TreeFeatures)).
		Str("linear", b.Linear.Name()).
		Float64("linear_threshold", b.LinearThreshold).
		Int("linear_features", len(b.LinearFeatures)).
		Bool("scaler", b.Scaler != nil).
		Msg("Model artifacts loaded")
	return b, nil
}

// resolve returns a local path for loc. ok is false when the artifact is
// not configured or does not exist.
func (l *loader) resolve(ctx context.Context, role, loc string) (string, bool, error) {
	if loc == "" {
		return "", false, nil
	}
	path, err := l.fetcher.Resolve(ctx, loc)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return path, false, nil
		}
		return "", false, err
	}
	l.sources[role] = path
	return path, true, nil
}

func (l *loader) requiredPath(ctx context.Context, role, loc string) (string, error) {
	path, ok, err := l.resolve(ctx, role, loc)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", ErrArtifactMissing, role, loc, err)
	}
	if !ok {
		if loc == "" {
			return "", fmt.Errorf("%w: %s path not configured", ErrArtifactMissing, role)
		}
		return "", fmt.Errorf("%w: %s %s", ErrArtifactMissing, role, path)
	}
	return path, nil
}

func (l *loader) getBridge() (*Bridge, error) {
	if l.bridge != nil {
		return l.bridge, nil
	}
	b, err := NewBridge(l.cfg.Bridge, l.metrics)
	if err != nil {
		return nil, err
	}
	l.bridge = b
	return b, nil
}

func (l *loader) requiredModel(ctx context.Context, role, loc string) (Classifier, error) {
	path, err := l.requiredPath(ctx, role, loc)
	if err != nil {
		return nil, err
	}

	switch kindOf(path) {
	case kindJSON:
		var m interface {
			Classifier
			validate() error
		}
		if role == RoleTreeModel {
			m = &Forest{}
		} else {
			m = &Logistic{}
		}
		if err := decodeJSONFile(path, m); err != nil {
			return nil, fmt.Errorf("load %s %s: %w", role, path, err)
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("load %s %s: %w", role, path, err)
		}
		return m, nil

	case kindJoblib:
		bridge, err := l.getBridge()
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", role, path, err)
		}
		pinned, err := l.pin(path)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", role, path, err)
		}
		name := common.TreeModelName
		if role == RoleLinearModel {
			name = common.LinearModelName
		}
		m := NewBridgeModel(bridge, pinned, name)
		kind, err := m.Check(ctx)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", role, path, err)
		}
		log.Debug().Str("role", role).Str("estimator", kind).Msg("joblib artifact checked")
		return m, nil

	default:
		return nil, fmt.Errorf("load %s %s: unsupported artifact format", role, path)
	}
}

// pin copies an artifact evaluated by the bridge into the cache under its
// content hash. Every later bridge call reads the copy, so edits to the
// configured file do not reach a loaded bundle.
func (l *loader) pin(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)

	dir := l.cfg.CacheDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "delaydemo-artifacts")
	}
	dir = filepath.Join(dir, "pinned")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create pinned artifact dir: %w", err)
	}
	pinned := filepath.Join(dir, hex.EncodeToString(sum[:12])+filepath.Ext(path))

	if existing, err := os.ReadFile(pinned); err == nil && sha256.Sum256(existing) == sum {
		return pinned, nil
	}

	tmp, err := os.CreateTemp(dir, "pin-*")
	if err != nil {
		return "", fmt.Errorf("pin artifact %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("pin artifact %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("pin artifact %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o444); err != nil {
		return "", fmt.Errorf("pin artifact %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), pinned); err != nil {
		return "", fmt.Errorf("pin artifact %s: %w", path, err)
	}
	log.Debug().Str("path", path).Str("pinned", pinned).Msg("Artifact pinned")
	return pinned, nil
}

func (l *loader) requiredThreshold(ctx context.Context, role, loc string) (float64, error) {
	path, err := l.requiredPath(ctx, role, loc)
	if err != nil {
		return 0, err
	}
	t, err := l.readThreshold(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("load %s %s: %w", role, path, err)
	}
	return t, nil
}

func (l *loader) optionalThreshold(ctx context.Context, role, loc string, fallback float64) float64 {
	path, ok, err := l.resolve(ctx, role, loc)
	if err != nil || !ok {
		log.Warn().Err(err).Str("role", role).Str("path", loc).Float64("default", fallback).Msg("Threshold artifact unavailable, using default")
		return fallback
	}
	t, err := l.readThreshold(ctx, path)
	if err != nil {
		delete(l.sources, role)
		log.Warn().Err(err).Str("role", role).Str("path", path).Float64("default", fallback).Msg("Threshold artifact unreadable, using default")
		return fallback
	}
	return t
}

func (l *loader) optionalFeatures(ctx context.Context, role, loc string) features.Schema {
	path, ok, err := l.resolve(ctx, role, loc)
	if err != nil {
		log.Warn().Err(err).Str("role", role).Str("path", loc).Msg("Feature list unavailable")
		return nil
	}
	if !ok {
		if loc != "" {
			log.Info().Str("role", role).Str("path", path).Msg("Feature list not found")
		}
		return nil
	}
	names, err := l.readFeatures(ctx, path)
	if err != nil {
		delete(l.sources, role)
		log.Warn().Err(err).Str("role", role).Str("path", path).Msg("Feature list unreadable, ignoring it")
		return nil
	}
	return names
}

func (l *loader) optionalScaler(ctx context.Context, loc string) features.Transformer {
	path, ok, err := l.resolve(ctx, RoleScaler, loc)
	if err != nil || !ok {
		if err != nil {
			log.Warn().Err(err).Str("path", loc).Msg("Scaler unavailable, features will not be scaled")
		}
		return nil
	}

	switch kindOf(path) {
	case kindJSON:
		s := &StandardScaler{}
		if err := decodeJSONFile(path, s); err == nil {
			err = s.validate()
		}
		if err != nil {
			delete(l.sources, RoleScaler)
			log.Warn().Err(err).Str("path", path).Msg("Scaler unreadable, features will not be scaled")
			return nil
		}
		return s
	case kindJoblib:
		bridge, err := l.getBridge()
		if err != nil {
			delete(l.sources, RoleScaler)
			log.Warn().Err(err).Str("path", path).Msg("Scaler needs the python bridge, features will not be scaled")
			return nil
		}
		pinned, err := l.pin(path)
		if err != nil {
			delete(l.sources, RoleScaler)
			log.Warn().Err(err).Str("path", path).Msg("Scaler could not be pinned, features will not be scaled")
			return nil
		}
		return NewBridgeModel(bridge, pinned, RoleScaler)
	default:
		delete(l.sources, RoleScaler)
		log.Warn().Str("path", path).Msg("Unsupported scaler format, features will not be scaled")
		return nil
	}
}

func (l *loader) readThreshold(ctx context.Context, path string) (float64, error) {
	var t float64
	switch kindOf(path) {
	case kindText:
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		t, err = strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			return 0, fmt.Errorf("parse threshold: %w", err)
		}
	case kindJSON:
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		if t, err = parseThreshold(data); err != nil {
			return 0, err
		}
	case kindJoblib:
		bridge, err := l.getBridge()
		if err != nil {
			return 0, err
		}
		raw, err := bridge.LoadValue(ctx, path)
		if err != nil {
			return 0, err
		}
		if t, err = parseThreshold(raw); err != nil {
			return 0, err
		}
	default:
		return 0, errors.New("unsupported artifact format")
	}

	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("threshold %v is not finite", t)
	}
	return t, nil
}

// parseThreshold accepts a bare number, {"threshold": n} or a one-element
// array.
func parseThreshold(data []byte) (float64, error) {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		return f, nil
	}
	var obj struct {
		Threshold *float64 `json:"threshold"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Threshold != nil {
		return *obj.Threshold, nil
	}
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) == 1 {
		return arr[0], nil
	}
	return 0, fmt.Errorf("threshold must be a number, got %s", truncate(data, 64))
}

func (l *loader) readFeatures(ctx context.Context, path string) (features.Schema, error) {
	var names []string
	switch kindOf(path) {
	case kindText:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			if name := strings.TrimSpace(sc.Text()); name != "" {
				names = append(names, name)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	case kindJSON:
		if err := decodeJSONFile(path, &names); err != nil {
			return nil, err
		}
	case kindJoblib:
		bridge, err := l.getBridge()
		if err != nil {
			return nil, err
		}
		raw, err := bridge.LoadValue(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, fmt.Errorf("feature list must be an array of strings: %w", err)
		}
	default:
		return nil, errors.New("unsupported artifact format")
	}

	if len(names) == 0 {
		return nil, errors.New("feature list is empty")
	}
	return features.Schema(names), nil
}

// widthModel is implemented by artifacts whose input width is known
// without evaluating them.
type widthModel interface {
	inputWidth() int
}

// checkWidths compares each native artifact with the schema it will be
// scored with. Bridge models are not checked. A mismatched model fails the
// load; a scaler that does not fit the primary schema is dropped.
func (l *loader) checkWidths(b *Bundle) error {
	primary := b.PrimarySchema()
	if primary == nil {
		return nil
	}
	primaryRole := RoleTreeFeatures
	if b.TreeFeatures == nil {
		primaryRole = RoleLinearFeatures
	}
	linear, linearRole := primary, primaryRole
	if b.LinearFeatures != nil {
		linear, linearRole = b.LinearFeatures, RoleLinearFeatures
	}

	if w, ok := b.Tree.(widthModel); ok && w.inputWidth() != len(primary) {
		return fmt.Errorf("%w: %s %s expects %d features, %s lists %d",
			ErrArtifactMismatch, RoleTreeModel, l.sources[RoleTreeModel], w.inputWidth(), primaryRole, len(primary))
	}
	if w, ok := b.Linear.(widthModel); ok && w.inputWidth() != len(linear) {
		return fmt.Errorf("%w: %s %s expects %d features, %s lists %d",
			ErrArtifactMismatch, RoleLinearModel, l.sources[RoleLinearModel], w.inputWidth(), linearRole, len(linear))
	}

	w, ok := b.Scaler.(widthModel)
	switch {
	case !ok:
	case w.inputWidth() != len(primary):
		log.Warn().
			Str("path", l.sources[RoleScaler]).
			Int("scaler_features", w.inputWidth()).
			Int("schema_features", len(primary)).
			Msg("Scaler does not fit the feature list, features will not be scaled")
		delete(l.sources, RoleScaler)
		b.Scaler = nil
	case w.inputWidth() != len(linear):
		log.Warn().
			Int("scaler_features", w.inputWidth()).
			Int("linear_features", len(linear)).
			Msg("Scaler does not fit the linear feature list, linear inputs will not be scaled")
	}
	return nil
}

func decodeJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
