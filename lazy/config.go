package lazy

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/vireodb/vireo/exec"
	"github.com/vireodb/vireo/qerr"
)

// LoadOpts reads execution defaults from the environment and an
// optional config file (any format viper reads). Environment variables
// use the VIREO_ prefix with underscores, so optimizer.cse becomes
// VIREO_OPTIMIZER_CSE. Unset keys fall back to DefaultOpts.
func LoadOpts(path string) (Opts, error) {
	v := viper.New()
	v.SetEnvPrefix("vireo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch_size", exec.DefaultBatchSize)
	v.SetDefault("parallelism", 0)
	v.SetDefault("memory_limit", 0)
	v.SetDefault("streaming", false)
	v.SetDefault("optimizer.type_coercion", true)
	v.SetDefault("optimizer.simplify", true)
	v.SetDefault("optimizer.predicate_pushdown", true)
	v.SetDefault("optimizer.projection_pushdown", true)
	v.SetDefault("optimizer.slice_pushdown", true)
	v.SetDefault("optimizer.cse", true)
	v.SetDefault("optimizer.join_opt", true)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Opts{}, qerr.Wrapf(err, "read config %s", path)
		}
	}

	opts := DefaultOpts()
	opts.BatchSize = v.GetInt("batch_size")
	opts.Parallelism = v.GetInt("parallelism")
	opts.MemoryLimit = v.GetInt64("memory_limit")
	opts.Streaming = v.GetBool("streaming")
	opts.Optimizer.TypeCoercion = v.GetBool("optimizer.type_coercion")
	opts.Optimizer.Simplify = v.GetBool("optimizer.simplify")
	opts.Optimizer.PredicatePushdown = v.GetBool("optimizer.predicate_pushdown")
	opts.Optimizer.ProjectionPushdown = v.GetBool("optimizer.projection_pushdown")
	opts.Optimizer.SlicePushdown = v.GetBool("optimizer.slice_pushdown")
	opts.Optimizer.CSE = v.GetBool("optimizer.cse")
	opts.Optimizer.JoinOpt = v.GetBool("optimizer.join_opt")
	return opts, nil
}
