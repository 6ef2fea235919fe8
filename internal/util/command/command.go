package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SafeMPC/stealth-sap/internal/app"
	"github.com/SafeMPC/stealth-sap/internal/config"
)

const ConfigFlag = "config"

// NewSubcommandGroup 创建只包含子命令的命令组
func NewSubcommandGroup(use string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("%s related subcommands", use),
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				log.Error().Err(err).Msg("Failed to print help")
			}
		},
	}
	cmd.AddCommand(subcommands...)
	return cmd
}

// ConfigureLogger 应用日志级别与输出格式
func ConfigureLogger(cfg config.Logger) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.TimeFormat = "15:04:05"
		}))
	}
}

// LoadConfig 读取 --config 指定的配置文件
func LoadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString(ConfigFlag)
	if err != nil {
		path = ""
	}
	return config.Load(path)
}

// WithApp 组装依赖后执行 fn，结束时释放资源
func WithApp(ctx context.Context, cfg config.Config, fn func(ctx context.Context, a *app.App) error) error {
	ConfigureLogger(cfg.Logger)

	a, cleanup, err := app.InitApp(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to initialize app")
	}
	defer cleanup()

	return fn(ctx, a)
}

// Run 读取配置后执行 fn
func Run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return err
	}
	return WithApp(cmd.Context(), cfg, fn)
}

// PrintJSON 以缩进 JSON 输出到命令标准输出
func PrintJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to encode output")
}
