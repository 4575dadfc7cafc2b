package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/frebindels/kucoin-data-collector/internal/app"
)

func main() {
	cfgFileName := flag.String("c", "config.yml", "Path to config file")
	symbol := flag.String("symbol", "", "Trading symbol to collect, e.g. BTCUSDT")
	format := flag.String("format", "", "Listing format override: xml or html")
	discoverOnly := flag.Bool("discover", false, "Print the discovered manifest and exit")
	flag.Parse()

	_ = godotenv.Load()

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "symbol is required")
		flag.Usage()
		os.Exit(app.ExitConfigError)
	}

	a := app.New(*cfgFileName, *symbol, *format, *discoverOnly)

	done := make(chan int, 1)
	go func() {
		done <- a.Run()
	}()

	c := make(chan os.Signal, 1)
	defer close(c)

	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range c {
			switch sig {
			case syscall.SIGUSR1:
				go a.Flush()
			case syscall.SIGTERM, syscall.SIGINT:
				fmt.Println("Received termination signal. Shutting down...")
				a.Stop()

				return
			}
		}
	}()

	os.Exit(<-done)
}
