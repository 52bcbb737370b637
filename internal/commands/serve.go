package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nfstrace/internal/engine"
	"nfstrace/internal/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve decoded traces to websocket clients",
	Long: `Start an HTTP server. Clients connect to /ws and send a load_traces
command naming trace files on the server; the merged packets are streamed
back as JSON. Traces can also be posted to /api/traces or uploaded to
/api/upload.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	addSequencerFlags(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	eng := engine.New(sequencerConfig())

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, eng)

	addr := fmt.Sprintf(":%d", v.GetInt("port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logrus.Infof("nfstrace listening on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
