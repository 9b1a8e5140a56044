// Command esmcp-client is a command-line client for an esmcp server.
//
// Usage:
//
//	esmcp-client [-url URL] <command> [flags]
//
// Commands:
//
//	tools                         list the server's tools
//	ping                          check the server and the connection
//	schema [-out FILE]            print or save the field schema
//	hosts [-start D] [-end D]     show which tiers cover a date range
//	search -query JSON [...]      run es_search
//	query -prompt TEXT [...]      generate a query from natural language
//	ask -prompt TEXT              generate a query, route it by date and run it
//	call -name TOOL [-args JSON]  call any tool
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/scrypster/esmcp/internal/mcpclient"
	"github.com/scrypster/esmcp/internal/notify"
)

var errUsage = errors.New("usage: esmcp-client [-url URL] <tools|ping|schema|hosts|search|query|ask|call> [flags]")

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("esmcp-client: ")
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("esmcp-client", flag.ContinueOnError)
	baseURL := global.String("url", envOr("ESMCP_URL", "http://127.0.0.1:8080"), "Server base URL")
	timeout := global.Duration("timeout", 5*time.Minute, "Per-call timeout")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errUsage
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	client := mcpclient.New(*baseURL, mcpclient.WithTimeout(*timeout), mcpclient.WithClientID("cli"))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", *baseURL, err)
	}
	defer client.Close()

	switch cmd {
	case "tools":
		list, err := client.ListTools(ctx)
		if err != nil {
			return err
		}
		for _, tool := range list.Tools {
			fmt.Fprintf(out, "%-16s %s\n", tool.Name, tool.Description)
		}
		return nil

	case "ping":
		pong, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (connection %s)\n", pong.Status, pong.ConnectionID)
		return nil

	case "schema":
		fs := flag.NewFlagSet("schema", flag.ContinueOnError)
		outFile := fs.String("out", "", "Write the schema to FILE instead of stdout")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		result, err := client.GetSchema(ctx)
		if err != nil {
			return err
		}
		if *outFile != "" {
			if err := notify.WriteFileAtomic(*outFile, pretty(result.Data()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(out, "schema written to %s\n", *outFile)
			return nil
		}
		return printData(out, result)

	case "hosts":
		fs := flag.NewFlagSet("hosts", flag.ContinueOnError)
		start := fs.String("start", "", "Start date (yyyy-MM-dd)")
		end := fs.String("end", "", "End date (yyyy-MM-dd)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		result, err := client.SearchHosts(ctx, *start, *end)
		if err != nil {
			return err
		}
		return printData(out, result)

	case "search":
		fs := flag.NewFlagSet("search", flag.ContinueOnError)
		query := fs.String("query", "", "Search source document (JSON)")
		host := fs.String("host", "PRIMARY", "Host tier when no dates are given")
		start := fs.String("start", "", "Start date; selects tiers by coverage")
		end := fs.String("end", "", "End date")
		indices := fs.String("indices", "", "Comma separated indices")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *query == "" {
			return errors.New("search: -query is required")
		}
		var (
			result *mcpclient.CallResult
			err    error
		)
		if *start != "" || *end != "" {
			result, err = client.SearchWithDates(ctx, *query, *start, *end, splitList(*indices))
		} else {
			result, err = client.SearchElasticsearch(ctx, *query, *host, splitList(*indices))
		}
		if err != nil {
			return err
		}
		return printData(out, result)

	case "query":
		fs := flag.NewFlagSet("query", flag.ContinueOnError)
		prompt := fs.String("prompt", "", "Natural language request")
		maxResults := fs.Int("max", 0, "Maximum results")
		aggs := fs.Bool("aggs", false, "Include summary aggregations")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		schema, err := client.GetSchema(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch schema: %w", err)
		}
		args := map[string]interface{}{
			"prompt":              *prompt,
			"schemaContext":       string(schema.Data()),
			"includeAggregations": *aggs,
		}
		if *maxResults > 0 {
			args["maxResults"] = *maxResults
		}
		result, err := client.CallTool(ctx, "es_query", args)
		if err != nil {
			return err
		}
		return printData(out, result)

	case "ask":
		fs := flag.NewFlagSet("ask", flag.ContinueOnError)
		prompt := fs.String("prompt", "", "Natural language request")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		outcome, err := client.Search(ctx, *prompt)
		if err != nil {
			return err
		}
		log.Printf("host=%s range=%s..%s indices=%d took=%s",
			outcome.SelectedHost, outcome.StartDate, outcome.EndDate, len(outcome.Indices), outcome.Elapsed.Round(time.Millisecond))
		return printData(out, outcome.Result)

	case "call":
		fs := flag.NewFlagSet("call", flag.ContinueOnError)
		name := fs.String("name", "", "Tool name")
		rawArgs := fs.String("args", "{}", "Tool arguments (JSON object)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		var toolArgs map[string]interface{}
		if err := json.Unmarshal([]byte(*rawArgs), &toolArgs); err != nil {
			return fmt.Errorf("call: -args must be a JSON object: %w", err)
		}
		result, err := client.CallTool(ctx, *name, toolArgs)
		if err != nil {
			return err
		}
		return printData(out, result)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func printData(out io.Writer, result *mcpclient.CallResult) error {
	_, err := out.Write(append(pretty(result.Data()), '\n'))
	return err
}

func pretty(raw json.RawMessage) []byte {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
