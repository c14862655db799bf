package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the model layer
type MetricsInterface interface {
	BridgeLatencyObserve(float64)
	BridgeFailuresInc()
	BridgeTimeoutsInc()
	ArtifactsFetchedInc()
}

// BridgeConfig configures the python subprocess used for joblib artifacts.
type BridgeConfig struct {
	// PythonPath skips interpreter discovery when set.
	PythonPath string
	// ScriptDir receives the embedded bridge script.
	ScriptDir string
	Timeout   time.Duration
}

// Bridge runs scikit-learn artifacts through a python interpreter. Each call
// is one subprocess reading a JSON request on stdin and writing a JSON
// response on stdout.
type Bridge struct {
	pythonPath string
	scriptPath string
	timeout    time.Duration
	metrics    MetricsInterface
}

type bridgeRequest struct {
	Op   string      `json:"op"`
	Path string      `json:"path"`
	X    [][]float64 `json:"x,omitempty"`
	Row  int         `json:"row"`
}

type bridgeResponse struct {
	Values []float64       `json:"values,omitempty"`
	Matrix [][]float64     `json:"matrix,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const bridgeScriptName = "joblib_bridge.py"

// NewBridge locates a python interpreter and writes the bridge script.
func NewBridge(cfg BridgeConfig, metrics MetricsInterface) (*Bridge, error) {
	pythonPath := cfg.PythonPath
	if pythonPath == "" {
		p, err := findPython()
		if err != nil {
			return nil, err
		}
		pythonPath = p
	}

	dir := cfg.ScriptDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bridge script dir: %w", err)
	}
	scriptPath := filepath.Join(dir, bridgeScriptName)
	if err := createBridgeScript(scriptPath); err != nil {
		return nil, fmt.Errorf("write bridge script: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	log.Info().Str("python_path", pythonPath).Str("script_path", scriptPath).Msg("Python bridge ready")
	return &Bridge{
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		timeout:    timeout,
		metrics:    metrics,
	}, nil
}

func (b *Bridge) call(ctx context.Context, req bridgeRequest) (*bridgeResponse, error) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.BridgeLatencyObserve(time.Since(start).Seconds())
		}
	}()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.pythonPath, b.scriptPath)
	cmd.Stdin = bytes.NewReader(reqJSON)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if b.metrics != nil {
				b.metrics.BridgeTimeoutsInc()
			}
			log.Error().Str("op", req.Op).Str("path", req.Path).Dur("timeout", b.timeout).Msg("Python bridge timed out")
			return nil, fmt.Errorf("bridge %s timeout after %v", req.Op, b.timeout)
		}
		if b.metrics != nil {
			b.metrics.BridgeFailuresInc()
		}

		// the script reports its own failures as JSON before exiting non-zero
		var resp bridgeResponse
		if json.Unmarshal(stdout.Bytes(), &resp) == nil && resp.Error != "" {
			log.Error().Str("op", req.Op).Str("path", req.Path).Str("python_error", resp.Error).Msg("Python bridge returned error")
			return nil, fmt.Errorf("bridge %s: %s", req.Op, resp.Error)
		}

		log.Error().
			Err(err).
			Str("python_path", b.pythonPath).
			Str("script_path", b.scriptPath).
			Str("op", req.Op).
			Str("path", req.Path).
			Str("stderr", stderr.String()).
			Msg("Python bridge execution failed")
		return nil, fmt.Errorf("bridge %s failed: %w, stderr: %s", req.Op, err, strings.TrimSpace(stderr.String()))
	}

	var resp bridgeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		if b.metrics != nil {
			b.metrics.BridgeFailuresInc()
		}
		return nil, fmt.Errorf("failed to parse bridge response: %w, stdout: %s", err, stdout.String())
	}
	if resp.Error != "" {
		if b.metrics != nil {
			b.metrics.BridgeFailuresInc()
		}
		return nil, fmt.Errorf("bridge %s: %s", req.Op, resp.Error)
	}
	return &resp, nil
}

// LoadValue unpickles a plain value (threshold, feature list) and returns it
// as JSON.
func (b *Bridge) LoadValue(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := b.call(ctx, bridgeRequest{Op: "value", Path: path})
	if err != nil {
		return nil, err
	}
	if len(resp.Value) == 0 {
		return nil, fmt.Errorf("bridge returned no value for %s", path)
	}
	return resp.Value, nil
}

// BridgeModel is a joblib-serialized estimator evaluated through the bridge.
// Which methods succeed depends on the estimator behind path.
type BridgeModel struct {
	bridge *Bridge
	path   string
	name   string
}

// NewBridgeModel wraps the artifact at path.
func NewBridgeModel(b *Bridge, path, name string) *BridgeModel {
	return &BridgeModel{bridge: b, path: path, name: name}
}

func (m *BridgeModel) Name() string { return m.name }

// Check loads the artifact once and returns the estimator's type name.
func (m *BridgeModel) Check(ctx context.Context) (string, error) {
	resp, err := m.bridge.call(ctx, bridgeRequest{Op: "check", Path: m.path})
	if err != nil {
		return "", err
	}
	var kind string
	if err := json.Unmarshal(resp.Value, &kind); err != nil {
		return "", fmt.Errorf("bridge check for %s: %w", m.path, err)
	}
	return kind, nil
}

func (m *BridgeModel) PredictProba(ctx context.Context, x [][]float64) ([]float64, error) {
	if len(x) == 0 {
		return []float64{}, nil
	}
	resp, err := m.bridge.call(ctx, bridgeRequest{Op: "predict_proba", Path: m.path, X: x})
	if err != nil {
		return nil, err
	}
	if len(resp.Values) != len(x) {
		return nil, fmt.Errorf("bridge returned %d probabilities for %d rows", len(resp.Values), len(x))
	}
	for i, p := range resp.Values {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, fmt.Errorf("invalid probability at row %d: %f", i, p)
		}
	}
	return resp.Values, nil
}

func (m *BridgeModel) Coefficients(ctx context.Context) ([]float64, error) {
	resp, err := m.bridge.call(ctx, bridgeRequest{Op: "coef", Path: m.path})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (m *BridgeModel) FeatureImportances(ctx context.Context) ([]float64, error) {
	resp, err := m.bridge.call(ctx, bridgeRequest{Op: "feature_importances", Path: m.path})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (m *BridgeModel) Attributions(ctx context.Context, x [][]float64, row int) ([]float64, error) {
	if row < 0 || row >= len(x) {
		return nil, fmt.Errorf("row %d out of range [0, %d)", row, len(x))
	}
	resp, err := m.bridge.call(ctx, bridgeRequest{Op: "shap_values", Path: m.path, X: x, Row: row})
	if err != nil {
		if strings.Contains(err.Error(), "shap not installed") {
			return nil, fmt.Errorf("%w: %v", ErrAttributionUnsupported, err)
		}
		return nil, err
	}
	if len(resp.Values) != len(x[row]) {
		return nil, fmt.Errorf("bridge returned %d attributions for %d features", len(resp.Values), len(x[row]))
	}
	return resp.Values, nil
}

// Transform applies a joblib-serialized scaler.
func (m *BridgeModel) Transform(x [][]float64) ([][]float64, error) {
	resp, err := m.bridge.call(context.Background(), bridgeRequest{Op: "transform", Path: m.path, X: x})
	if err != nil {
		return nil, err
	}
	return resp.Matrix, nil
}

// probeJoblib is the import check a usable interpreter must pass.
const probeJoblib = "import sys, joblib; print('Python', sys.version)"

func findPython() (string, error) {
	var candidates []string

	if venvPath := os.Getenv("VIRTUAL_ENV"); venvPath != "" {
		candidates = append(candidates,
			filepath.Join(venvPath, "bin", "python3"),
			filepath.Join(venvPath, "bin", "python"),
			filepath.Join(venvPath, "Scripts", "python.exe"),
		)
	}

	// venv next to the executable or its parents
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		for _, root := range []string{execDir, filepath.Dir(execDir), filepath.Dir(filepath.Dir(execDir))} {
			candidates = append(candidates,
				filepath.Join(root, "venv", "bin", "python3"),
				filepath.Join(root, ".venv", "bin", "python3"),
				filepath.Join(root, "venv", "Scripts", "python.exe"),
			)
		}
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		if out, err := exec.Command(c, "-c", probeJoblib).Output(); err == nil && strings.Contains(string(out), "Python 3") {
			log.Info().Str("python_path", c).Msg("Using virtual environment Python")
			return c, nil
		}
	}

	names := []string{"python3", "python", "python3.12", "python3.11", "python3.10", "python3.9"}
	for _, name := range names {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		if out, err := exec.Command(path, "-c", probeJoblib).Output(); err == nil && strings.Contains(string(out), "Python 3") {
			log.Info().Str("python_path", path).Msg("Using system Python")
			return path, nil
		}
	}

	return "", errors.New("no Python 3 interpreter with joblib found; install scikit-learn or convert artifacts to JSON")
}

func createBridgeScript(scriptPath string) error {
	script := `#!/usr/bin/env python3
"""
joblib bridge for flight delay artifacts (embedded version)
"""
import sys
import json

try:
    import joblib
    import numpy as np
except ImportError as e:
    print(json.dumps({"error": "joblib not installed: %s" % e}))
    sys.exit(1)


def to_json(obj):
    if hasattr(obj, "tolist"):
        return obj.tolist()
    if isinstance(obj, (list, tuple)):
        return [to_json(v) for v in obj]
    return obj


def positive_class_shap(model, X, row):
    try:
        import shap
    except ImportError:
        raise RuntimeError("shap not installed")
    values = shap.TreeExplainer(model).shap_values(X)
    if isinstance(values, list):
        return np.asarray(values[1])[row]
    values = np.asarray(values)
    if values.ndim == 3:
        return values[row, :, 1]
    return values[row]


def main():
    try:
        req = json.load(sys.stdin)
        obj = joblib.load(req["path"])
        op = req["op"]
        X = np.asarray(req.get("x") or [], dtype=float)

        if op == "predict_proba":
            resp = {"values": obj.predict_proba(X)[:, 1].tolist()}
        elif op == "coef":
            resp = {"values": np.asarray(obj.coef_)[0].tolist()}
        elif op == "feature_importances":
            resp = {"values": np.asarray(obj.feature_importances_).tolist()}
        elif op == "shap_values":
            resp = {"values": np.asarray(positive_class_shap(obj, X, req.get("row", 0))).tolist()}
        elif op == "transform":
            resp = {"matrix": np.asarray(obj.transform(X)).tolist()}
        elif op == "value":
            resp = {"value": to_json(obj)}
        elif op == "check":
            resp = {"value": type(obj).__name__}
        else:
            raise ValueError("unknown op: %s" % op)

        print(json.dumps(resp))
    except Exception as e:
        print(json.dumps({"error": str(e)}))
        sys.exit(1)


if __name__ == "__main__":
    main()
`

	return os.WriteFile(scriptPath, []byte(script), 0o755)
}
