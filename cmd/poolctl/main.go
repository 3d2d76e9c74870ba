// Command poolctl is an operator CLI for a running poold: it can print the
// pool's health/stats snapshot or open its dashboard in a local browser.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/browser"
)

var cli struct {
	Addr string `help:"poold base address." default:"http://localhost:8088"`

	Status struct {
		Detailed bool `help:"Include per-component health detail."`
	} `cmd:"" help:"Print the pool's health status."`

	Contexts struct{} `cmd:"" help:"Print the pool's context snapshot as JSON."`

	Open struct{} `cmd:"" help:"Open the pool's detailed health page in a browser."`
}

func main() {
	ctx := kong.Parse(&cli, kong.Description("operator CLI for the browser context pool"))

	client := &http.Client{Timeout: 10 * time.Second}

	switch ctx.Command() {
	case "status":
		url := cli.Addr + "/health"
		if cli.Status.Detailed {
			url += "?detailed=true"
		}
		exitOnErr(printJSON(client, url))
	case "contexts":
		exitOnErr(printJSON(client, cli.Addr+"/v1/contexts"))
	case "open":
		exitOnErr(browser.OpenURL(cli.Addr + "/health?detailed=true"))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", ctx.Command())
		os.Exit(1)
	}
}

func printJSON(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
