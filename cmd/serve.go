package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsperry/triage/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server exposing the triage API:

  POST /api/v1/scope              start a scoping session
  POST /api/v1/execute            start an execution session
  GET  /api/v1/sessions           list tracked sessions
  GET  /api/v1/sessions/{id}      session status (with transcript fallback)
  GET  /api/v1/sessions/{id}/poll block until terminal state or timeout
  GET  /api/v1/issues             list tracked issues
  GET  /api/v1/events             audit event log

By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		manager, err := getManager()
		if err != nil {
			return err
		}

		addr := fmt.Sprintf(":%d", viper.GetInt("port"))
		handler := api.NewServer(s, manager).Router()
		ui.Info("Serving API at http://localhost%s", addr)
		return http.ListenAndServe(addr, handler)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	viper.SetDefault("port", 8080)
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}
