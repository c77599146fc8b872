package common

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvDotEnvFile      = "DOTENV_FILE"
	EnvListenPort      = "PORT"
	EnvDataPath        = "DATA_PATH"
	EnvLabelColumn     = "LABEL_COLUMN"
	EnvTrainingSeed    = "TRAINING_SEED"
	EnvTrainingTrees   = "TRAINING_TREES"
	EnvTestRatio       = "TEST_RATIO"
	EnvTrainWorkers    = "TRAIN_WORKERS"
	EnvMaxUploadBytes  = "MAX_UPLOAD_BYTES"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogPretty       = "LOG_PRETTY"
	EnvFusionTenants   = "FUSION_TENANTS"
	EnvFusionStrategy  = "FUSION_STRATEGY"
	EnvFusionEnableERS = "FUSION_ENABLE_ERS"
	EnvFusionBatchMax  = "FUSION_BATCH_LIMIT"
	EnvServiceURL      = "FRAUD_SERVICE_URL"
	EnvRemoteScoring   = "FUSION_REMOTE_SCORING"
)

// Configuration defaults
const (
	DefaultListenPort     = 5000
	DefaultDataPath       = "models"
	DefaultLabelColumn    = "isFraud"
	DefaultTrainingSeed   = 42
	DefaultTrainingTrees  = 100
	DefaultTestRatio      = 0.2
	DefaultTrainWorkers   = 4
	DefaultMaxUploadBytes = 64 << 20 // 64 MiB
	DefaultLogLevel       = "info"
	DefaultServiceURL     = "http://localhost:5000"
	DefaultBatchLimit     = 10
)

// Decision thresholds
const (
	// FraudThreshold is the fixed probability cut-off used by the prediction engine.
	FraudThreshold = 0.5

	// RuleFraudMatches is the number of matched expert rules that makes the rule decision "fraud".
	RuleFraudMatches = 2

	// Aggregate thresholds applied by the fusion detector.
	FusionFraudAbove    = 0.7
	FusionAmbiguousFrom = 0.45
	DefaultERSLow       = 0.45
	DefaultERSHigh      = 0.7
)

// Labels returned by the prediction engine, rule system and fusion detector.
const (
	LabelFraud      = "fraud"
	LabelLegitimate = "legitimate"
)

// Fusion weighting strategies
const (
	StrategyPerformance = "performance"
	StrategyEqual       = "equal"
)

// Validation constants
const (
	MinListenPort  = 1
	MaxListenPort  = 65535
	MinTrees       = 1
	MaxTrees       = 1000
	MinTestRatio   = 0.05
	MaxTestRatio   = 0.5
	MaxTrainWorker = 64
	MaxBatchLimit  = 10000

	MaxTenantIDBytes = 256
)
