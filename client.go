package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Remote holds the flags shared by the commands that talk to a running host.
type Remote struct {
	Server  string        `default:"http://localhost:8080" env:"DURABLEHOST_SERVER" help:"Base URL of the host management API."`
	Hub     string        `default:"default" help:"Task hub name."`
	Timeout time.Duration `default:"30s" help:"Request timeout."`
}

func (r *Remote) do(method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, r.Server+"/hubs/"+url.PathEscape(r.Hub)+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		if e.Code != "" {
			return fmt.Errorf("%s (%s)", e.Error, e.Code)
		}
		return fmt.Errorf("%s", e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type StartCmd struct {
	Remote     `embed:""`
	Name       string `arg:"" help:"Orchestration name."`
	Input      string `help:"Orchestration input as JSON."`
	Version    string `help:"Orchestration version."`
	InstanceID string `name:"id" help:"Instance ID; generated when empty."`
}

func (c *StartCmd) Run() error {
	req := createInstanceRequest{Name: c.Name, Version: c.Version, InstanceID: c.InstanceID}
	if c.Input != "" {
		if !json.Valid([]byte(c.Input)) {
			return fmt.Errorf("--input is not valid JSON")
		}
		req.Input = json.RawMessage(c.Input)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var resp createInstanceResponse
	if err := c.do(http.MethodPost, "/instances", bytes.NewReader(body), &resp); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, resp.InstanceID)
	return nil
}

type RaiseCmd struct {
	Remote     `embed:""`
	InstanceID string `arg:"" name:"id" help:"Instance ID."`
	Event      string `arg:"" help:"Event name."`
	Payload    string `arg:"" optional:"" help:"Event payload, sent as is."`
}

func (c *RaiseCmd) Run() error {
	path := "/instances/" + url.PathEscape(c.InstanceID) + "/events/" + url.PathEscape(c.Event)
	return c.do(http.MethodPost, path, bytes.NewBufferString(c.Payload), nil)
}

type TerminateCmd struct {
	Remote     `embed:""`
	InstanceID string `arg:"" name:"id" help:"Instance ID."`
	Reason     string `help:"Termination reason recorded as the output."`
}

func (c *TerminateCmd) Run() error {
	body, err := json.Marshal(terminateRequest{Reason: c.Reason})
	if err != nil {
		return err
	}
	return c.do(http.MethodPost, "/instances/"+url.PathEscape(c.InstanceID)+"/terminate", bytes.NewReader(body), nil)
}

type StatusCmd struct {
	Remote     `embed:""`
	InstanceID string `arg:"" name:"id" help:"Instance ID."`
	Wait       bool   `help:"Wait for the instance to complete."`
}

func (c *StatusCmd) Run() error {
	path := "/instances/" + url.PathEscape(c.InstanceID)
	if c.Wait {
		path += "?wait=true"
	}
	var metadata json.RawMessage
	if err := c.do(http.MethodGet, path, nil, &metadata); err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, metadata, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, pretty.String())
	return nil
}
