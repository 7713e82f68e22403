package heap

import (
	"bytes"
	"encoding/json"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

// configSchema describes the on-disk JSON configuration accepted by
// LoadConfig, following the same "describe it, then validate against it"
// approach the rest of the ambient stack uses for its own config blocks.
const configSchema = `{
    "type": "object",
    "description": "Configuration for a heapgc-managed heap instance.",
    "properties": {
        "backend": {
            "description": "Collector backend: markSweep, copying, or generational.",
            "type": "string"
        },
        "heap-size": {
            "description": "Arena size in bytes (mark-sweep/generational-old) or per-semispace size (copying).",
            "type": "integer",
            "minimum": 0
        },
        "nursery-size": {
            "description": "Per-half nursery size in bytes, generational backend only.",
            "type": "integer",
            "minimum": 0
        },
        "promote-age": {
            "description": "Survived-collections count before a nursery object is promoted.",
            "type": "integer",
            "minimum": 0
        },
        "threshold-bytes": {
            "description": "Initial opportunistic-collection threshold in bytes.",
            "type": "integer",
            "minimum": 0
        },
        "growth-expr": {
            "description": "expr-lang expression over {live, arenaSize, collections} computing the next threshold.",
            "type": "string"
        },
        "debug": {
            "description": "Stress-trigger a collection on every allocation.",
            "type": "boolean"
        },
        "bridge": {
            "description": "Diagnostics HTTP bridge configuration.",
            "type": "object",
            "properties": {
                "addr": {
                    "description": "Address the diagnostics server listens on, e.g. ':6062'.",
                    "type": "string"
                },
                "rate-limit-per-sec": {
                    "description": "Requests per second allowed across the rate-limited diagnostics endpoints combined.",
                    "type": "number"
                }
            }
        },
        "events": {
            "description": "NATS lifecycle-event publisher configuration.",
            "type": "object",
            "properties": {
                "address": {
                    "type": "string"
                },
                "subject": {
                    "type": "string"
                },
                "username": {
                    "type": "string"
                },
                "password": {
                    "type": "string"
                },
                "creds-file-path": {
                    "type": "string"
                }
            }
        }
    }
}`

// BridgeConfig configures the optional HTTP diagnostics bridge.
type BridgeConfig struct {
	Addr            string  `json:"addr"`
	RateLimitPerSec float64 `json:"rate-limit-per-sec"`
}

// EventsConfig configures the optional NATS lifecycle-event publisher.
type EventsConfig struct {
	Address       string `json:"address"`
	Subject       string `json:"subject"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// FileConfig is the decoded shape of a heapgc JSON config file.
type FileConfig struct {
	Backend        string       `json:"backend"`
	HeapSize       int          `json:"heap-size"`
	NurserySize    int          `json:"nursery-size"`
	PromoteAge     int          `json:"promote-age"`
	ThresholdBytes uint64       `json:"threshold-bytes"`
	GrowthExpr     string       `json:"growth-expr"`
	Debug          bool         `json:"debug"`
	Bridge         BridgeConfig `json:"bridge"`
	Events         EventsConfig `json:"events"`
}

// validateConfig validates raw against configSchema, terminating the
// process on a malformed config file. A heap that cannot be configured
// as requested must not silently run with different parameters, per the
// same reasoning that makes allocate-after-collection-failure fatal.
func validateConfig(raw []byte) {
	sch, err := jsonschema.CompileString("heapgc-config.json", configSchema)
	if err != nil {
		cclog.Fatalf("[HEAPGC]> internal config schema failed to compile: %s", err.Error())
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		cclog.Fatalf("[HEAPGC]> config is not valid JSON: %s", err.Error())
	}
	if err := sch.Validate(v); err != nil {
		cclog.Fatalf("[HEAPGC]> config failed schema validation: %#v", err)
	}
}

// LoadConfig loads the .env file at envPath (if any) into the process
// environment first, then reads and validates the JSON config file at
// path and returns the decoded FileConfig. Config values are taken
// literally; no environment-variable expansion is applied to them. A missing config file is not an error: the caller
// gets a zero-value FileConfig and every backend applies its own
// defaults. HEAPGC_BACKEND, when set, overrides whatever backend the file
// named, so an operator can switch collectors for one run without
// editing the config file on disk.
func LoadConfig(path, envPath string) (FileConfig, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return FileConfig{}, err
		}
	}

	var fc FileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fc, err
		}
	} else {
		validateConfig(raw)

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fc); err != nil {
			return fc, err
		}
	}

	if envBackend := os.Getenv("HEAPGC_BACKEND"); envBackend != "" {
		fc.Backend = envBackend
	}
	return fc, nil
}

// ToBackendConfig projects the file config's collector fields into the
// common.Config the selected backend's Init expects.
func (fc FileConfig) ToBackendConfig() common.Config {
	return common.Config{
		HeapSize:       fc.HeapSize,
		NurserySize:    fc.NurserySize,
		PromoteAge:     fc.PromoteAge,
		ThresholdBytes: fc.ThresholdBytes,
		GrowthExpr:     fc.GrowthExpr,
		Debug:          fc.Debug,
	}
}
