package proxy

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IMBotPlatform/IMBotGuard/pkg/audit"
	"github.com/IMBotPlatform/IMBotGuard/pkg/command"
)

// NewCommandFactory 返回门户斜杠命令的命令树工厂：
//
//	/policy <id>   选择策略
//	/policies      列出登录时获取的策略
//	/history [n]   查看最近 n 条审计记录
func NewCommandFactory(accounts *Accounts, log audit.Log) command.CommandFactory {
	return func() *cobra.Command {
		root := &cobra.Command{
			Use:   "guard",
			Short: "Portal commands",
		}

		root.AddCommand(&cobra.Command{
			Use:   "policy <id>",
			Short: "Select the active policy",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				execCtx := command.FromContext(cmd.Context())
				cmd.Print(accounts.SelectPolicy(execCtx.UserID, args[0]))
				return nil
			},
		})

		root.AddCommand(&cobra.Command{
			Use:   "policies",
			Short: "List available policies",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				execCtx := command.FromContext(cmd.Context())
				sess := accounts.Session(execCtx.UserID)
				active, _ := sess.ActivePolicy()
				policies := sess.Policies()
				if len(policies) == 0 {
					cmd.Print("no policies available")
					return nil
				}
				lines := make([]string, 0, len(policies))
				for _, p := range policies {
					marker := "  "
					if p == active {
						marker = "* "
					}
					lines = append(lines, marker+p)
				}
				cmd.Print(strings.Join(lines, "\n"))
				return nil
			},
		})

		var limit int
		history := &cobra.Command{
			Use:   "history",
			Short: "Show recent audited interactions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				execCtx := command.FromContext(cmd.Context())
				records, err := log.Fetch(cmd.Context(), execCtx.UserID)
				if err != nil {
					return fmt.Errorf("fetch history: %w", err)
				}
				if limit > 0 && len(records) > limit {
					records = records[len(records)-limit:]
				}
				if len(records) == 0 {
					cmd.Print("no interactions recorded")
					return nil
				}
				for i, rec := range records {
					if i > 0 {
						cmd.Println()
					}
					cmd.Printf("%s [%s] violation=%t bot_tokens=%d guard_tokens=%d: %s",
						rec.Timestamp.Format("2006-01-02 15:04:05"), rec.PolicyID, rec.Violation,
						rec.BotTokens, rec.GuardTokens, rec.Message)
				}
				return nil
			},
		}
		history.Flags().IntVarP(&limit, "limit", "n", 10, "number of records to show")
		root.AddCommand(history)

		return root
	}
}
