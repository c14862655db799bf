package common

// Model names used in logs, metrics labels and verdicts
const (
	TreeModelName   = "random_forest"
	LinearModelName = "logistic_regression"
)

// Result columns appended to the input table. Downstream consumers rely on these names.
const (
	ColTreeProba   = "rf_proba"
	ColTreePred    = "rf_pred"
	ColLinearProba = "lr_proba"
	ColLinearPred  = "lr_pred"
)

// Environment variable keys
const (
	EnvConfigFile          = "CONFIG_FILE"
	EnvModelsDir           = "MODELS_DIR"
	EnvTreeModelPath       = "TREE_MODEL_PATH"
	EnvTreeThresholdPath   = "TREE_THRESHOLD_PATH"
	EnvTreeFeaturesPath    = "TREE_FEATURES_PATH"
	EnvLinearModelPath     = "LINEAR_MODEL_PATH"
	EnvLinearThresholdPath = "LINEAR_THRESHOLD_PATH"
	EnvLinearFeaturesPath  = "LINEAR_FEATURES_PATH"
	EnvScalerPath          = "SCALER_PATH"
	EnvArtifactCacheDir    = "ARTIFACT_CACHE_DIR"
	EnvArtifactTimeout     = "ARTIFACT_TIMEOUT"
	EnvPythonPath          = "PYTHON_PATH"
	EnvBridgeTimeout       = "BRIDGE_TIMEOUT"
	EnvDataPath            = "DATA_PATH"
	EnvResultsFile         = "RESULTS_FILE"
	EnvListenPort          = "LISTEN_PORT"
	EnvLogLevel            = "LOG_LEVEL"
	EnvLinearTopN          = "LINEAR_TOP_N"
	EnvTreeTopN            = "TREE_TOP_N"
	EnvDefaultLinearThresh = "DEFAULT_LINEAR_THRESHOLD"
	EnvTieTolerance        = "TIE_TOLERANCE"
)

// Artifact file names under the models directory
const (
	DefaultTreeModelFile       = "random_forest_final.json"
	DefaultTreeThresholdFile   = "random_forest_final_threshold.json"
	DefaultTreeFeaturesFile    = "random_forest_feature_list.json"
	DefaultLinearModelFile     = "log_reg_final_class_weighted.json"
	DefaultLinearThresholdFile = "log_reg_final_threshold.json"
	DefaultLinearFeaturesFile  = "log_reg_feature_list.json"
	DefaultScalerFile          = "scaler.json"
)

// Configuration defaults
const (
	DefaultModelsDir        = "models"
	DefaultDataPath         = "data"
	DefaultResultsFile      = "predictions.csv"
	DefaultListenPort       = 8501
	DefaultLogLevel         = "info"
	DefaultLinearTopN       = 8
	DefaultTreeTopN         = 12
	DefaultSupportingTopN   = 3
	DefaultLinearThreshold  = 0.6
	DefaultTreeThreshold    = 0.30
	DefaultTieTolerance     = 0.15
	DefaultArtifactCacheDir = "models/.cache"
)

// Verdict labels
const (
	LabelDelay  = "Delay"
	LabelOnTime = "On time"
)

// Validation constants
const (
	MinListenPort = 1024
	MaxListenPort = 65535
	MaxTopN       = 100
)
