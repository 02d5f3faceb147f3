// Command relsqlctl is the operator-facing CLI for the engine: a REPL
// shell for interactive SQL, and a runner for batch scripts. Built the
// way gotermsql's cmd/gotermsql wires its CLI: cobra for the command
// tree, viper for layered config (flags > env > config file).
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"relsql/internal/dispatcher"
	"relsql/internal/errs"
	"relsql/internal/storage"
)

func main() {
	var (
		dataDir string
		dbName  string
	)

	cobra.OnInitialize(func() { initConfig(dataDir) })

	root := &cobra.Command{
		Use:   "relsqlctl",
		Short: "Operate the relational engine: interactive shell and script runner",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "database root directory (overrides "+storage.DataDirEnv+")")
	root.PersistentFlags().StringVar(&dbName, "db", "", "database to USE on startup")
	viper.BindPFlag("data-dir", root.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("db", root.PersistentFlags().Lookup("db"))

	root.AddCommand(newShellCmd(&dbName))
	root.AddCommand(newRunCmd(&dbName))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(flagDataDir string) {
	viper.SetEnvPrefix("RELSQL")
	viper.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".relsqlctl")
		viper.SetConfigType("yaml")
		_ = viper.ReadInConfig()
	}

	dir := flagDataDir
	if dir == "" {
		dir = viper.GetString("data-dir")
	}
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err == nil {
			dir = abs
		}
		os.Setenv(storage.DataDirEnv, dir)
	}
}

func newShellCmd(dbName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive SQL shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := dispatcher.NewEngine()
			if err != nil {
				return err
			}
			sess := &dispatcher.Session{CurrentDB: viper.GetString("db")}
			if *dbName != "" {
				sess.CurrentDB = *dbName
			}
			return runShell(eng, sess)
		},
	}
}

func newRunCmd(dbName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <script.sql>",
		Short: "Execute every statement in a SQL script file in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			eng, err := dispatcher.NewEngine()
			if err != nil {
				return err
			}
			sess := &dispatcher.Session{CurrentDB: viper.GetString("db")}
			if *dbName != "" {
				sess.CurrentDB = *dbName
			}
			results, err := eng.Run(sess, string(body))
			for _, r := range results {
				printResult(r)
			}
			return err
		},
	}
}

// runShell accumulates input lines until one ends with ";" and then
// executes the buffered statement, printing rows or the status message.
func runShell(eng *dispatcher.Engine, sess *dispatcher.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	var buf strings.Builder

	prompt := func() {
		db := sess.CurrentDB
		if db == "" {
			db = "(no database)"
		}
		fmt.Printf("relsql:%s> ", db)
	}

	prompt()
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteString("\n")
		if !strings.HasSuffix(strings.TrimSpace(line), ";") {
			continue
		}

		stmt := buf.String()
		buf.Reset()
		if strings.TrimSpace(stmt) == "" {
			prompt()
			continue
		}
		if strings.EqualFold(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";")), "exit") {
			return nil
		}

		res, err := eng.Execute(sess, stmt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", describeErr(err))
		} else {
			printResult(res)
		}
		prompt()
	}
	fmt.Println()
	return scanner.Err()
}

func printResult(r dispatcher.Result) {
	if len(r.Schema.Fields) > 0 || len(r.Rows) > 0 {
		names := make([]string, len(r.Schema.Fields))
		for i, f := range r.Schema.Fields {
			names[i] = f.Name
		}
		fmt.Println(strings.Join(names, "\t"))
		for _, row := range r.Rows {
			fmt.Println(strings.Join(row.Values, "\t"))
		}
		fmt.Printf("(%d rows)\n", len(r.Rows))
		return
	}
	if r.Affected > 0 || r.Message != "" {
		fmt.Println(r.Message)
	}
}

func describeErr(err error) string {
	if e, ok := err.(*errs.Error); ok {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	return err.Error()
}
