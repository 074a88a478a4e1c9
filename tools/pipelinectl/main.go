// pipelinectl operates the appointment event topology: it declares topics
// and inspects or replays dead-lettered messages.
package main

import (
	"fmt"
	"os"

	"github.com/carelink/apptpipeline/libs/config"
	"github.com/carelink/apptpipeline/libs/kafkax"
	"github.com/carelink/apptpipeline/libs/runtime"
	"github.com/carelink/apptpipeline/libs/topology"
	"github.com/spf13/cobra"
)

type cliConfig struct {
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topology     topology.Config
}

var (
	cfg     cliConfig
	brokers string
)

var rootCmd = &cobra.Command{
	Use:   "pipelinectl",
	Short: "Operate the appointment event topology",
	Long: `pipelinectl declares the appointment topics and works with their
dead-letter topics.

Topology names come from BROKER_EXCHANGE, QUEUE_CREATED, QUEUE_UPDATED,
ROUTING_KEY_CREATED and ROUTING_KEY_UPDATED, the same variables the
services read.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(&cfg); err != nil {
			return err
		}
		if brokers != "" {
			cfg.KafkaBrokers = brokers
		}
		if len(kafkax.SplitBrokers(cfg.KafkaBrokers)) == 0 {
			return fmt.Errorf("no kafka brokers configured")
		}
		return cfg.Topology.Validate()
	},
}

func brokerList() []string {
	return kafkax.SplitBrokers(cfg.KafkaBrokers)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&brokers, "brokers", "", "comma separated kafka brokers (overrides KAFKA_BROKERS)")
	rootCmd.AddCommand(declareCmd, dlqCmd)
}

func main() {
	ctx, stop := runtime.SignalContext()
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
