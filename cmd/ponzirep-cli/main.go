package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ponzirep/cmd/internal/passphrase"
	"ponzirep/crypto"
	"ponzirep/observability/logging"
	"ponzirep/rpc"
)

const (
	rpcEndpointEnv = "PONZIREP_RPC"
	rpcTokenEnv    = "PONZIREP_RPC_TOKEN"
	keyPassEnv     = "PONZIREP_KEY_PASS"
	jwtSecretEnv   = "PONZIREP_JWT_SECRET"

	defaultEndpoint = "http://127.0.0.1:8545"
	signedCallTTL   = 2 * time.Minute
)

// cli carries the global flags shared by every subcommand.
type cli struct {
	endpoint string
	token    string
	keystore string

	out        io.Writer
	httpClient *http.Client
	passphrase func() (string, error)
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	c := &cli{
		out:        out,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		passphrase: passphrase.NewSource(keyPassEnv, "Enter keystore passphrase").Get,
	}
	root := &cobra.Command{
		Use:           "ponzirep-cli",
		Short:         "Command line client for the PonziRep trade escrow",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.endpoint, "rpc", envOr(rpcEndpointEnv, defaultEndpoint), "JSON-RPC endpoint")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv(rpcTokenEnv), "bearer token for write methods")
	root.PersistentFlags().StringVar(&c.keystore, "keystore", "", "path to an Ethereum v3 keystore file")

	root.AddCommand(
		newKeyCommand(c),
		newTokenCommand(c),
		newSignCommand(c),
		newOfferCommand(c),
		newGovCommand(c),
		newBalanceCommand(c),
		newHeadCommand(c),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, strings.Trim(string(e.Data), `"`))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call invokes method with positional params and decodes the result into out.
func (c *cli) call(method string, requireAuth bool, out interface{}, params ...interface{}) error {
	raw, err := encodeParams(params)
	if err != nil {
		return err
	}
	return c.post(method, requireAuth, nil, raw, out)
}

// signedCall invokes a write method on behalf of the --keystore account. The
// request carries the bearer token and a SignedCall over the exact params.
func (c *cli) signedCall(method string, out interface{}, params ...interface{}) error {
	if _, err := c.bearer(method); err != nil {
		return err
	}
	raw, err := encodeParams(params)
	if err != nil {
		return err
	}
	domain, err := c.fetchDomain()
	if err != nil {
		return err
	}
	key, err := c.loadKey()
	if err != nil {
		return err
	}
	auth, err := rpc.SignCall(key.PrivateKey, domain.ChainID, domain.VerifyingContract, method, raw, time.Now().Add(signedCallTTL))
	if err != nil {
		return fmt.Errorf("sign %s: %w", method, err)
	}
	return c.post(method, true, auth, raw, out)
}

func (c *cli) bearer(method string) (string, error) {
	token := strings.TrimSpace(c.token)
	if token == "" {
		return "", fmt.Errorf("%s requires a bearer token; pass --token or set %s", method, rpcTokenEnv)
	}
	return token, nil
}

func encodeParams(params []interface{}) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for i, p := range params {
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("params[%d]: %w", i, err)
		}
		raw = append(raw, encoded)
	}
	return raw, nil
}

func (c *cli) post(method string, requireAuth bool, auth *rpc.SignedCall, params []json.RawMessage, out interface{}) error {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}
	if auth != nil {
		payload["auth"] = auth
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		token, err := c.bearer(method)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// callAndPrint invokes method and writes the indented result to stdout.
func (c *cli) callAndPrint(method string, requireAuth bool, params ...interface{}) error {
	var result json.RawMessage
	if err := c.call(method, requireAuth, &result, params...); err != nil {
		return err
	}
	return c.printJSON(result)
}

func (c *cli) signedCallAndPrint(method string, params ...interface{}) error {
	var result json.RawMessage
	if err := c.signedCall(method, &result, params...); err != nil {
		return err
	}
	return c.printJSON(result)
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) loadKey() (*crypto.PrivateKey, error) {
	if strings.TrimSpace(c.keystore) == "" {
		return nil, fmt.Errorf("--keystore is required")
	}
	pass, err := c.passphrase()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(c.keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore (passphrase %q): %w", logging.MaskValue(pass), err)
	}
	return key, nil
}
