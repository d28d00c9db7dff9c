package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/saagar210/Echolocate/internal/db"
)

var (
	customRuleName     string
	customRuleSeverity string
	customRuleWebhook  string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage alert rules",
	Long: `List and toggle the built-in alert rules, and manage custom
rules. Custom rule conditions are JSON condition trees; see the
documentation for the condition reference.`,
	Example: `  echolocate rules list
  echolocate rules enable new_device
  echolocate rules disable unknown_device
  echolocate rules custom list
  echolocate rules custom create --name "NAS offline" --conditions '{"type":"not_seen_since","minutes":10}'
  echolocate rules custom delete <rule-uuid>`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in alert rules",
	Run:   runRulesList,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Enable a built-in rule",
	Args:  cobra.ExactArgs(1),
	Run:   makeRuleToggleRunner(true),
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Disable a built-in rule",
	Args:  cobra.ExactArgs(1),
	Run:   makeRuleToggleRunner(false),
}

var rulesCustomCmd = &cobra.Command{
	Use:   "custom",
	Short: "Manage custom alert rules",
}

var rulesCustomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List custom alert rules",
	Run:   runRulesCustomList,
}

var rulesCustomCreateCmd = &cobra.Command{
	Use:   "create --name <name> --conditions <json>",
	Short: "Create a custom alert rule",
	Args:  cobra.NoArgs,
	Run:   runRulesCustomCreate,
}

var rulesCustomDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a custom alert rule",
	Args:  cobra.ExactArgs(1),
	Run:   runRulesCustomDelete,
}

var customRuleConditions string

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)
	rulesCmd.AddCommand(rulesCustomCmd)
	rulesCustomCmd.AddCommand(rulesCustomListCmd)
	rulesCustomCmd.AddCommand(rulesCustomCreateCmd)
	rulesCustomCmd.AddCommand(rulesCustomDeleteCmd)

	rulesCustomCreateCmd.Flags().StringVar(&customRuleName, "name", "", "Rule name (required)")
	rulesCustomCreateCmd.Flags().StringVar(&customRuleConditions, "conditions", "", "Condition tree JSON (required)")
	rulesCustomCreateCmd.Flags().StringVar(&customRuleSeverity, "severity", "warning", "Severity: info, warning, critical")
	rulesCustomCreateCmd.Flags().StringVar(&customRuleWebhook, "webhook-url", "", "Webhook URL for this rule")
	_ = rulesCustomCreateCmd.MarkFlagRequired("name")
	_ = rulesCustomCreateCmd.MarkFlagRequired("conditions")
}

func runRulesList(_ *cobra.Command, _ []string) {
	client := mustCreateAPIClient()
	var resp struct {
		Rules []db.AlertRule `json:"rules"`
	}
	if err := client.Get("/rules", &resp); err != nil {
		exitOnAPIError(err, "list rules")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Type", "Severity", "Enabled", "Desktop")

	for i := range resp.Rules {
		r := &resp.Rules[i]
		_ = table.Append([]string{
			r.ID,
			r.Name,
			r.AlertType,
			r.Severity,
			boolWord(r.Enabled),
			boolWord(r.NotifyDesktop),
		})
	}
	_ = table.Render()
}

func makeRuleToggleRunner(enabled bool) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, args []string) {
		client := mustCreateAPIClient()
		payload := map[string]interface{}{"enabled": enabled}
		if err := client.Put("/rules/"+args[0], payload, nil); err != nil {
			exitOnAPIError(err, "update rule")
		}
		if enabled {
			fmt.Printf("Rule %s enabled\n", args[0])
		} else {
			fmt.Printf("Rule %s disabled\n", args[0])
		}
	}
}

func runRulesCustomList(_ *cobra.Command, _ []string) {
	client := mustCreateAPIClient()
	var resp struct {
		Rules []db.CustomAlertRule `json:"rules"`
	}
	if err := client.Get("/rules/custom", &resp); err != nil {
		exitOnAPIError(err, "list custom rules")
	}

	if len(resp.Rules) == 0 {
		fmt.Println("No custom rules defined")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Severity", "Enabled", "Conditions")

	for i := range resp.Rules {
		r := &resp.Rules[i]
		conditions := string(r.Conditions)
		if len(conditions) > 60 {
			conditions = conditions[:57] + "..."
		}
		_ = table.Append([]string{
			shortID(r.ID.String()),
			r.Name,
			r.Severity,
			boolWord(r.Enabled),
			conditions,
		})
	}
	_ = table.Render()
}

func runRulesCustomCreate(_ *cobra.Command, _ []string) {
	if !json.Valid([]byte(customRuleConditions)) {
		fmt.Fprintf(os.Stderr, "Error: --conditions is not valid JSON\n")
		os.Exit(1)
	}

	payload := map[string]interface{}{
		"name":       customRuleName,
		"conditions": json.RawMessage(customRuleConditions),
		"severity":   customRuleSeverity,
	}
	if customRuleWebhook != "" {
		payload["webhook_url"] = customRuleWebhook
	}

	client := mustCreateAPIClient()
	var created db.CustomAlertRule
	if err := client.Post("/rules/custom", payload, &created); err != nil {
		exitOnAPIError(err, "create custom rule")
	}
	fmt.Printf("Custom rule created: %s (%s)\n", created.Name, created.ID)
}

func runRulesCustomDelete(_ *cobra.Command, args []string) {
	client := mustCreateAPIClient()
	if err := client.Delete("/rules/custom/"+args[0], nil); err != nil {
		exitOnAPIError(err, "delete custom rule")
	}
	fmt.Println("Custom rule deleted")
}

func boolWord(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
