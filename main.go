package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"peerchat/commands"
	"peerchat/config"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	peerID := initCmd.String("peer", "", "Peer identity to store in the new config")
	registerGlobalFlags(initCmd)

	registryCmd := flag.NewFlagSet("registry", flag.ExitOnError)
	registerGlobalFlags(registryCmd)

	chatCmd := flag.NewFlagSet("chat", flag.ExitOnError)
	registerGlobalFlags(chatCmd)

	historyCmd := flag.NewFlagSet("history", flag.ExitOnError)
	historyPeer := historyCmd.String("peer", "", "Peer whose conversation to print")
	registerGlobalFlags(historyCmd)

	pendingCmd := flag.NewFlagSet("pending", flag.ExitOnError)
	registerGlobalFlags(pendingCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		commands.RunInit(ctx, cfg, *peerID)
	case "registry":
		registryCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunRegistry(ctx, loadConfig(*configFile))
	case "chat":
		chatCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunChat(ctx, loadConfig(*configFile), os.Stdin, os.Stdout)
	case "history":
		historyCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunHistory(ctx, loadConfig(*configFile), *historyPeer, os.Stdout)
	case "pending":
		pendingCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunPending(ctx, loadConfig(*configFile), os.Stdout)
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
