package cli

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/saagar210/Echolocate/internal/db"
)

var (
	alertsLimit      int
	alertsUnreadOnly bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "View and acknowledge alerts",
	Example: `  echolocate alerts list
  echolocate alerts list --unread
  echolocate alerts read <alert-uuid>
  echolocate alerts read-all`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent alerts",
	Run:   runAlertsList,
}

var alertsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark one alert as read",
	Args:  cobra.ExactArgs(1),
	Run:   runAlertsRead,
}

var alertsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every alert as read",
	Run:   runAlertsReadAll,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsReadCmd)
	alertsCmd.AddCommand(alertsReadAllCmd)

	alertsListCmd.Flags().IntVar(&alertsLimit, "limit", 50, "Number of alerts to list")
	alertsListCmd.Flags().BoolVar(&alertsUnreadOnly, "unread", false, "Show only unread alerts")
}

func runAlertsList(_ *cobra.Command, _ []string) {
	client := mustCreateAPIClient()
	var resp struct {
		Alerts []db.Alert `json:"alerts"`
	}
	if err := client.Get(fmt.Sprintf("/alerts?limit=%d", alertsLimit), &resp); err != nil {
		exitOnAPIError(err, "list alerts")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Severity", "Type", "Device", "Message", "Read", "Created")

	unread := 0
	shown := 0
	for i := range resp.Alerts {
		a := &resp.Alerts[i]
		if !a.Read {
			unread++
		}
		if alertsUnreadOnly && a.Read {
			continue
		}
		shown++

		read := ""
		if a.Read {
			read = "yes"
		}
		_ = table.Append([]string{
			shortID(a.ID.String()),
			a.Severity,
			a.Type,
			a.DeviceName,
			a.Message,
			read,
			a.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	if shown == 0 {
		fmt.Println("No alerts")
		return
	}
	_ = table.Render()
	fmt.Printf("\n%d alert(s), %d unread\n", shown, unread)
}

func runAlertsRead(_ *cobra.Command, args []string) {
	client := mustCreateAPIClient()
	if err := client.Post("/alerts/"+args[0]+"/read", nil, nil); err != nil {
		exitOnAPIError(err, "mark alert read")
	}
	fmt.Println("Alert marked read")
}

func runAlertsReadAll(_ *cobra.Command, _ []string) {
	client := mustCreateAPIClient()
	if err := client.Post("/alerts/read-all", nil, nil); err != nil {
		exitOnAPIError(err, "mark alerts read")
	}
	fmt.Println("All alerts marked read")
}
