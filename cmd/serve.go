package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/andresmejia3/moodlens/internal/dashboard"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		if !log.IsLevelEnabled(log.DebugLevel) {
			gin.SetMode(gin.ReleaseMode)
		}

		rt, err := newRig(cmd, Cfg)
		if err != nil {
			return report("Failed to prepare session", err)
		}
		defer rt.Close()

		hub := dashboard.NewHub()
		rt.ctrl.SetPresenter(rt.presenter(hub))
		srv := dashboard.New(ctx, rt.ctrl, hub, dashboard.Options{CORSOrigins: Cfg.Server.CORSOrigins})

		fmt.Fprintf(os.Stderr, "🌐 Dashboard on http://%s\n", displayAddr(Cfg.Server.Addr))
		err = srv.Run(ctx, Cfg.Server.Addr)

		rt.ctrl.Stop()
		rt.ctrl.Wait()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return report("Dashboard server failed", err)
		}
		return nil
	},
}

// displayAddr turns ":8080" into "localhost:8080" for the banner.
func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func init() {
	sessionFlags(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default from config: :8080)")
	rootCmd.AddCommand(serveCmd)
}
