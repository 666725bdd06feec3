package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func (c *command) pay(args []string) int {
	fs := newFlagSet("pay", c.stderr)
	var network, to, amount, key, idem string
	fs.StringVar(&network, "network", "", "ethereum or hedera")
	fs.StringVar(&to, "to", "", "recipient address or account id")
	fs.StringVar(&amount, "amount", "", "decimal amount in ETH or HBAR")
	fs.StringVar(&key, "private-key", "", "signing key for ethereum payments")
	fs.StringVar(&idem, "idempotency-key", "", "reuse a previous request key")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if network == "" || to == "" || amount == "" {
		return c.fail("--network, --to and --amount are required")
	}
	body := map[string]string{"network": network, "to": to, "amount": amount}
	if key != "" {
		body["privateKey"] = key
	}
	return c.call("POST", "/v1/payments", body, idem)
}

func (c *command) escrow(args []string) int {
	if len(args) == 0 {
		return c.fail("escrow requires a subcommand: deploy|get|release|refund|dispute")
	}
	sub, rest := args[0], args[1:]
	fs := newFlagSet("escrow "+sub, c.stderr)
	var id, idem string
	fs.StringVar(&idem, "idempotency-key", "", "reuse a previous request key")
	switch sub {
	case "deploy":
		var buyer, farmer, arbiter, amount, batch string
		fs.StringVar(&buyer, "buyer", "", "buyer address (defaults to the operator)")
		fs.StringVar(&farmer, "farmer", "", "farmer address")
		fs.StringVar(&arbiter, "arbiter", "", "arbiter address")
		fs.StringVar(&amount, "amount", "", "escrow amount in ETH")
		fs.StringVar(&batch, "batch", "", "optional batch reference")
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		if farmer == "" || arbiter == "" || amount == "" {
			return c.fail("--farmer, --arbiter and --amount are required")
		}
		body := map[string]string{"farmer": farmer, "arbiter": arbiter, "amount": amount}
		if buyer != "" {
			body["buyer"] = buyer
		}
		if batch != "" {
			body["batchRef"] = batch
		}
		return c.call("POST", "/v1/escrows", body, idem)
	case "get", "release", "refund", "dispute":
		var reason string
		fs.StringVar(&id, "id", "", "escrow id")
		if sub == "dispute" {
			fs.StringVar(&reason, "reason", "", "dispute reason")
		}
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		if id == "" {
			return c.fail("--id is required")
		}
		path := "/v1/escrows/" + url.PathEscape(id)
		switch sub {
		case "get":
			return c.call("GET", path, nil, "")
		case "dispute":
			if strings.TrimSpace(reason) == "" {
				return c.fail("--reason is required")
			}
			return c.call("POST", path+"/dispute", map[string]string{"reason": reason}, idem)
		default:
			return c.call("POST", path+"/"+sub, nil, idem)
		}
	default:
		return c.fail(fmt.Sprintf("unknown escrow subcommand %q", sub))
	}
}

// repeated collects a flag given several times.
type repeated []string

func (r *repeated) String() string { return strings.Join(*r, ",") }

func (r *repeated) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func (c *command) cert(args []string) int {
	if len(args) == 0 {
		return c.fail("cert requires a subcommand: mint|verify")
	}
	sub, rest := args[0], args[1:]
	fs := newFlagSet("cert "+sub, c.stderr)
	var batch string
	fs.StringVar(&batch, "batch", "", "batch id")
	switch sub {
	case "mint":
		var product, origin, farmer, harvest, quantity, unit, quality, image, idem string
		var certs repeated
		fs.StringVar(&product, "product", "", "product name")
		fs.StringVar(&origin, "origin", "", "region of origin")
		fs.StringVar(&farmer, "farmer", "", "farmer or cooperative")
		fs.StringVar(&harvest, "harvest-date", "", "harvest date (YYYY-MM-DD)")
		fs.StringVar(&quantity, "quantity", "0", "quantity")
		fs.StringVar(&unit, "unit", "", "quantity unit")
		fs.StringVar(&quality, "quality", "", "quality grade")
		fs.StringVar(&image, "image", "", "image URL")
		fs.Var(&certs, "certification", "certification (repeatable)")
		fs.StringVar(&idem, "idempotency-key", "", "reuse a previous request key")
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		if product == "" || origin == "" {
			return c.fail("--product and --origin are required")
		}
		body := map[string]any{
			"batchId":        batch,
			"product":        product,
			"origin":         origin,
			"farmer":         farmer,
			"harvestDate":    harvest,
			"quantity":       quantity,
			"unit":           unit,
			"quality":        quality,
			"image":          image,
			"certifications": []string(certs),
		}
		return c.call("POST", "/v1/certificates", body, idem)
	case "verify":
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		if batch == "" {
			return c.fail("--batch is required")
		}
		return c.call("GET", "/v1/certificates/"+url.PathEscape(batch)+"/verify", nil, "")
	default:
		return c.fail(fmt.Sprintf("unknown cert subcommand %q", sub))
	}
}

func (c *command) supply(args []string) int {
	if len(args) == 0 {
		return c.fail("supply requires a subcommand: append|history")
	}
	sub, rest := args[0], args[1:]
	fs := newFlagSet("supply "+sub, c.stderr)
	var batch string
	fs.StringVar(&batch, "batch", "", "batch id")
	switch sub {
	case "append":
		var step, location, operator, idem string
		fs.StringVar(&step, "step", "", "step name")
		fs.StringVar(&location, "location", "", "where the step happened")
		fs.StringVar(&operator, "operator", "", "who performed the step")
		fs.StringVar(&idem, "idempotency-key", "", "reuse a previous request key")
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		if batch == "" || step == "" {
			return c.fail("--batch and --step are required")
		}
		body := map[string]string{"stepName": step, "location": location, "operator": operator}
		return c.call("POST", "/v1/batches/"+url.PathEscape(batch)+"/steps", body, idem)
	case "history":
		if err := fs.Parse(rest); err != nil {
			return 1
		}
		if batch == "" {
			return c.fail("--batch is required")
		}
		return c.call("GET", "/v1/batches/"+url.PathEscape(batch)+"/steps", nil, "")
	default:
		return c.fail(fmt.Sprintf("unknown supply subcommand %q", sub))
	}
}
