package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/mindcare/backend/internal/analysis/safety"
	"github.com/zhouzirui/mindcare/backend/internal/app"
	"github.com/zhouzirui/mindcare/backend/internal/config"
	"github.com/zhouzirui/mindcare/backend/internal/logger"
	"github.com/zhouzirui/mindcare/backend/internal/service/ai"
	"github.com/zhouzirui/mindcare/backend/internal/service/reply"
)

var (
	timeout  time.Duration
	logLevel string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "chattester",
		Short:         "手动调试对话安全与上下文引擎",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "请求超时时间")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "日志级别")

	root.AddCommand(classifyCmd(), emotionCmd(), promptCmd(), chatCmd(), historyCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "输出安全分类结果",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := safety.NewDefaultClassifier()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			out := map[string]any{"verdict": classifier.Classify(text)}
			if name, ok := classifier.MatchedPattern(text); ok {
				out["pattern"] = name
			}
			return printJSON(cmd, out)
		},
	}
}

func emotionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emotion <text>",
		Short: "使用配置的情绪后端识别情绪",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res := a.Emotion.Detect(ctx, strings.Join(args, " "))
				out := map[string]any{"label": res.Label, "degraded": res.Degraded}
				if res.Err != nil {
					out["error"] = res.Err.Error()
				}
				return printJSON(cmd, out)
			})
		},
	}
}

func promptCmd() *cobra.Command {
	var (
		emotion string
		lines   []string
	)
	cmd := &cobra.Command{
		Use:   "prompt <text>",
		Short: "打印生成用的提示词",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), ai.Compose(emotion, lines, strings.Join(args, " ")))
			return nil
		},
	}
	cmd.Flags().StringVar(&emotion, "emotion", "neutral", "情绪标签")
	cmd.Flags().StringArrayVar(&lines, "context", nil, `上下文行，例如 "User: hi"，可重复`)
	return cmd
}

func chatCmd() *cobra.Command {
	var session, user string
	cmd := &cobra.Command{
		Use:   "chat <text>",
		Short: "走完整回复流程并持久化到配置的存储",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Orchestrator.Handle(ctx, reply.Request{
					SessionID: session,
					UserID:    user,
					Text:      strings.Join(args, " "),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"session_id": resp.SessionID,
					"reply":      resp.Reply,
					"title":      resp.Title,
					"emotion":    resp.Emotion,
					"verdict":    resp.Verdict,
				})
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "已有会话 ID，留空则新建")
	cmd.Flags().StringVar(&user, "user", "", "用户 ID")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session>",
		Short: "打印会话记录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				msgs, err := a.Sessions.History(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, msgs)
			})
		},
	}
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}

	log, err := logger.New(logLevel, "console")
	if err != nil {
		return err
	}
	defer log.Sync()
	zap.ReplaceGlobals(log.Desugar())

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
