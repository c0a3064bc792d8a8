package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rezenkai/crmflow/agent"
	"github.com/rezenkai/crmflow/analytics"
	"github.com/rezenkai/crmflow/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	def := config.Default()
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", def.HttpPort, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", string(def.StorageType), "workflow definition storage: memory or redis")
	cmd.Flags().String("bus-impl", string(def.BusType), "event bus: memory or redis")
	cmd.Flags().String("redis-addr", strings.Join(def.RedisConfig.Addrs, ","), "comma separated list of redis host:port")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().Int("redis-pool-size", 0, "redis pool size, 0 for the client default")
	cmd.Flags().String("namespace", def.RedisConfig.Namespace, "namespace used in storage")
	cmd.Flags().Duration("step-timeout", def.EngineConfig.DefaultStepTimeout, "timeout of steps without their own")
	cmd.Flags().Duration("retention", def.EngineConfig.RetentionPeriod, "how long finished executions are kept")
	cmd.Flags().Duration("sweep-interval", def.EngineConfig.SweepInterval, "how often expired executions are removed")
	cmd.Flags().Int("max-concurrent", 0, "max executions running at once, 0 for unlimited")
	cmd.Flags().Duration("script-timeout", def.EngineConfig.ScriptTimeout, "how long a script condition may run")
	cmd.Flags().Int("bus-capacity", def.EngineConfig.BusCapacity, "in memory bus queue capacity")
	cmd.Flags().String("log-level", def.LogConfig.Level, "log level")
	cmd.Flags().String("log-encoding", def.LogConfig.Encoding, "log encoding: json or console")
	cmd.Flags().String("analytics", string(def.AnalyticsConfig.CollectorType), "data collector: PROMETHEUS_DATA_COLLECTOR, LOG_FILE_DATA_COLLECTOR or NONE")
	cmd.Flags().String("analytics-file", "", "file of the log file data collector")
	cmd.Flags().String("crm-url", "", "base url of the CRM api, enables the CRM steps")
	cmd.Flags().String("crm-token", "", "bearer token for the CRM api")
	cmd.Flags().String("smtp-host", "", "smtp host, enables sending email")
	cmd.Flags().Int("smtp-port", 587, "smtp port")
	cmd.Flags().String("smtp-user", "", "smtp user")
	cmd.Flags().String("smtp-password", "", "smtp password")
	cmd.Flags().String("smtp-from", "", "sender address")
	cmd.Flags().Duration("http-timeout", def.HandlerConfig.HTTPTimeout, "timeout of outbound http calls")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)
	viper.SetEnvPrefix("crmflow")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return err
		}
	}

	c.cfg.Config = config.Default()
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.BusType = config.BusType(viper.GetString("bus-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.EngineConfig.DefaultStepTimeout = viper.GetDuration("step-timeout")
	c.cfg.EngineConfig.RetentionPeriod = viper.GetDuration("retention")
	c.cfg.EngineConfig.SweepInterval = viper.GetDuration("sweep-interval")
	c.cfg.EngineConfig.MaxConcurrentExecutions = viper.GetInt("max-concurrent")
	c.cfg.EngineConfig.BusCapacity = viper.GetInt("bus-capacity")
	c.cfg.EngineConfig.ScriptTimeout = viper.GetDuration("script-timeout")
	c.cfg.LogConfig.Level = viper.GetString("log-level")
	c.cfg.LogConfig.Encoding = viper.GetString("log-encoding")
	c.cfg.AnalyticsConfig.CollectorType = analytics.DataCollectorType(viper.GetString("analytics"))
	c.cfg.AnalyticsConfig.FileName = viper.GetString("analytics-file")
	c.cfg.HandlerConfig.CRMBaseURL = viper.GetString("crm-url")
	c.cfg.HandlerConfig.CRMToken = viper.GetString("crm-token")
	c.cfg.HandlerConfig.SMTP.Host = viper.GetString("smtp-host")
	c.cfg.HandlerConfig.SMTP.Port = viper.GetInt("smtp-port")
	c.cfg.HandlerConfig.SMTP.Username = viper.GetString("smtp-user")
	c.cfg.HandlerConfig.SMTP.Password = viper.GetString("smtp-password")
	c.cfg.HandlerConfig.SMTP.From = viper.GetString("smtp-from")
	c.cfg.HandlerConfig.HTTPTimeout = viper.GetDuration("http-timeout")
	return c.cfg.Validate()
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		return err
	}
	if err = agent.Start(); err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "crmflow",
		Short:   "CRM workflow execution engine",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
