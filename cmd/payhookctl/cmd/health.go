package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/payhook/internal/health"
)

var grpcAddr string

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the payhook service",
	Long: `Check the health status of the payhook service. By default the HTTP
/healthz endpoint is queried; with --grpc the standard gRPC health service
is used instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if grpcAddr != "" {
			status, err := grpcHealth(ctx, grpcAddr)
			if err != nil {
				return fmt.Errorf("gRPC health check failed: %w", err)
			}
			if status == healthpb.HealthCheckResponse_SERVING {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Service is healthy (gRPC)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✗ Service is unhealthy (gRPC %s)\n", status)
			return fmt.Errorf("service not serving")
		}

		st, code, err := httpHealth(ctx, httpClient(), baseURL())
		if err != nil {
			return fmt.Errorf("HTTP health check failed: %w", err)
		}
		if outputJSON {
			printOutput(cmd.OutOrStdout(), st)
		} else if st.OK {
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Service is healthy (HTTP)")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ Service is unhealthy (HTTP %d): %s\n", code, st.Message)
		}
		if !st.OK {
			return fmt.Errorf("service unhealthy")
		}
		return nil
	},
}

func httpHealth(ctx context.Context, client *http.Client, base string) (health.Status, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return health.Status{}, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return health.Status{}, 0, err
	}
	defer resp.Body.Close()

	var st health.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return health.Status{}, resp.StatusCode, fmt.Errorf("decode health response: %w", err)
	}
	return st, resp.StatusCode, nil
}

func grpcHealth(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC address (host:port) to query instead of HTTP")
}
