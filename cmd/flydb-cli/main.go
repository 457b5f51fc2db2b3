package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	flydb "github.com/firefly-software/flydb-go"
)

func main() {
	var (
		dsn     = flag.String("dsn", "flydb://localhost:8889", "FlyDB server DSN")
		user    = flag.String("user", "", "user name (overrides DSN)")
		pass    = flag.String("password", "", "password (overrides DSN)")
		timeout = flag.Duration("timeout", 10*time.Second, "per-request timeout")
		ping    = flag.Bool("ping", false, "check server liveness and exit")
		verbose = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	options := []flydb.Option{flydb.WithRequestTimeout(*timeout)}
	if *user != "" {
		options = append(options, flydb.WithCredentials(*user, *pass))
	}

	conn, err := flydb.ConnectDSN(*dsn, options...)
	if err != nil {
		logger.Error("Failed to connect", "dsn", *dsn, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	info, err := conn.ServerInfo()
	if err != nil {
		logger.Error("Failed to fetch server info", "error", err)
		os.Exit(1)
	}
	logger.Debug("Connected", "serverVersion", info.ServerVersion,
		"protocolVersion", info.ProtocolVersion, "capabilities", info.Capabilities)

	if *ping {
		start := time.Now()
		if _, err := conn.Ping(); err != nil {
			logger.Error("Ping failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("PONG (%s)\n", time.Since(start).Round(time.Microsecond))
		return
	}

	query := strings.Join(flag.Args(), " ")
	if strings.TrimSpace(query) == "" {
		fmt.Fprintln(os.Stderr, "usage: flydb-cli [flags] <sql>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cur, err := conn.Cursor()
	if err != nil {
		logger.Error("Failed to open cursor", "error", err)
		os.Exit(1)
	}
	defer cur.Close()

	if err := cur.Execute(query); err != nil {
		logger.Error("Query failed", "error", err)
		os.Exit(1)
	}

	if res := cur.Result(); res != nil && len(res.Columns()) > 0 {
		printResult(res)
	} else if res != nil && res.Message() != "" {
		fmt.Println(res.Message())
	} else {
		fmt.Printf("OK (%d rows affected)\n", cur.RowCount())
	}
}

func printResult(res *flydb.ResultSet) {
	names := make([]string, len(res.Columns()))
	for i, col := range res.Columns() {
		names[i] = col.Name
	}
	fmt.Println(strings.Join(names, " | "))
	fmt.Println(strings.Repeat("-", len(strings.Join(names, " | "))))

	for i := 0; i < res.Len(); i++ {
		row := res.Row(i)
		cells := make([]string, row.Len())
		for j := 0; j < row.Len(); j++ {
			cells[j] = formatCell(row.Index(j))
		}
		fmt.Println(strings.Join(cells, " | "))
	}
	fmt.Printf("(%d rows)\n", res.Len())
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
