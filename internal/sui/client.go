// Package sui is a thin JSON-RPC client for a Sui fullnode, normalizing
// the node's loosely-shaped payloads into the fixed structs the chat
// aggregator consumes. Upstream shape changes stop at this boundary.
package sui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// MainnetURL is the default public fullnode endpoint.
const MainnetURL = "https://fullnode.mainnet.sui.io:443"

// Balance is one coin type held by a wallet.
type Balance struct {
	CoinType     string
	TotalBalance string // raw units as decimal string, may exceed int64
}

// CoinMetadata describes a coin type.
type CoinMetadata struct {
	Symbol   string
	Decimals int
}

// NFT is a normalized non-fungible object.
type NFT struct {
	ObjectID          string
	Name              string
	Description       string
	ImageURL          string
	Collection        string
	CollectionAddress string
	Type              string
}

// Transaction is a normalized transaction-block summary.
type Transaction struct {
	Digest      string
	TimestampMS int64
	Kind        string
	GasFeeSUI   float64
	Success     bool
}

// Position is a leveraged LP position held by a wallet.
type Position struct {
	PositionID   string
	PoolName     string
	TokenX       string
	TokenY       string
	MarginLevel  float64
	LiqPriceLow  float64
	LiqPriceHigh float64
	InRange      bool
}

// Client talks JSON-RPC to a Sui fullnode.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	positionType string // struct-type prefix identifying LP position objects
}

// NewClient creates a fullnode client. positionType selects which owned
// objects count as leveraged positions (empty disables position lookup).
func NewClient(baseURL, positionType string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = MainnetURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		positionType: positionType,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// call performs one JSON-RPC request and returns the raw result for
// gjson-based extraction.
func (c *Client) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("fullnode returned %d for %s: %s", resp.StatusCode, method, truncate(string(raw), 200))
	}

	parsed := gjson.ParseBytes(raw)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("%s RPC error: %s", method, rpcErr.Get("message").String())
	}
	return parsed.Get("result"), nil
}

// Balances returns all coin balances for an address.
func (c *Client) Balances(ctx context.Context, address string) ([]Balance, error) {
	result, err := c.call(ctx, "suix_getAllBalances", address)
	if err != nil {
		return nil, err
	}
	var balances []Balance
	result.ForEach(func(_, coin gjson.Result) bool {
		balances = append(balances, Balance{
			CoinType:     coin.Get("coinType").String(),
			TotalBalance: coin.Get("totalBalance").String(),
		})
		return true
	})
	return balances, nil
}

// Metadata returns symbol/decimals for a coin type.
func (c *Client) Metadata(ctx context.Context, coinType string) (*CoinMetadata, error) {
	result, err := c.call(ctx, "suix_getCoinMetadata", coinType)
	if err != nil {
		return nil, err
	}
	if !result.Exists() || result.Type == gjson.Null {
		return nil, fmt.Errorf("no metadata for %s", coinType)
	}
	decimals := int(result.Get("decimals").Int())
	if decimals == 0 {
		decimals = 9
	}
	symbol := result.Get("symbol").String()
	if symbol == "" {
		symbol = "UNKNOWN"
	}
	return &CoinMetadata{Symbol: symbol, Decimals: decimals}, nil
}

// systemObjectPrefixes are owned-object types that are never NFTs.
var systemObjectPrefixes = []string{
	"0x2::coin::Coin",
	"0x3::staking_pool::",
	"0x2::dynamic_field::",
	"0x2::package::UpgradeCap",
}

// NFTs returns the displayable non-fungible objects owned by an address.
func (c *Client) NFTs(ctx context.Context, address string) ([]NFT, error) {
	query := map[string]any{
		"options": map[string]bool{
			"showType":    true,
			"showContent": true,
			"showDisplay": true,
		},
	}
	result, err := c.call(ctx, "suix_getOwnedObjects", address, query)
	if err != nil {
		return nil, err
	}

	var nfts []NFT
	result.Get("data").ForEach(func(_, obj gjson.Result) bool {
		data := obj.Get("data")
		objType := data.Get("type").String()
		if objType == "" || isSystemObject(objType) {
			return true
		}
		display := data.Get("display.data")
		fields := data.Get("content.fields")
		if !display.Exists() && !fields.Exists() {
			return true
		}

		name := firstNonEmpty(
			display.Get("name").String(),
			fields.Get("name").String(),
			nameFromType(objType),
		)
		if name == "" {
			return true
		}

		collectionAddr, collection := collectionFromType(objType)
		nfts = append(nfts, NFT{
			ObjectID:    data.Get("objectId").String(),
			Name:        name,
			Description: firstNonEmpty(display.Get("description").String(), fields.Get("description").String()),
			ImageURL: firstNonEmpty(
				display.Get("image_url").String(),
				display.Get("img_url").String(),
				fields.Get("image_url").String(),
				fields.Get("url").String(),
			),
			Collection:        collection,
			CollectionAddress: collectionAddr,
			Type:              objType,
		})
		return true
	})
	return nfts, nil
}

// Transactions returns the most recent transaction blocks sent from an
// address, normalized to digest/time/kind/fee/status.
func (c *Client) Transactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := map[string]any{
		"filter": map[string]string{"FromAddress": address},
		"options": map[string]bool{
			"showEffects": true,
			"showInput":   true,
		},
	}
	result, err := c.call(ctx, "suix_queryTransactionBlocks", query, nil, limit, true)
	if err != nil {
		return nil, err
	}

	var txs []Transaction
	result.Get("data").ForEach(func(_, tx gjson.Result) bool {
		gasUsed := tx.Get("effects.gasUsed")
		fee := gasUsed.Get("computationCost").Float() +
			gasUsed.Get("storageCost").Float() -
			gasUsed.Get("storageRebate").Float()
		txs = append(txs, Transaction{
			Digest:      tx.Get("digest").String(),
			TimestampMS: tx.Get("timestampMs").Int(),
			Kind:        tx.Get("transaction.data.transaction.kind").String(),
			GasFeeSUI:   fee / 1e9,
			Success:     tx.Get("effects.status.status").String() == "success",
		})
		return true
	})
	return txs, nil
}

// Positions returns leveraged LP position objects owned by the address.
func (c *Client) Positions(ctx context.Context, address string) ([]Position, error) {
	if c.positionType == "" {
		return nil, nil
	}
	query := map[string]any{
		"filter": map[string]any{"StructType": c.positionType},
		"options": map[string]bool{
			"showType":    true,
			"showContent": true,
		},
	}
	result, err := c.call(ctx, "suix_getOwnedObjects", address, query)
	if err != nil {
		return nil, err
	}

	var positions []Position
	result.Get("data").ForEach(func(_, obj gjson.Result) bool {
		data := obj.Get("data")
		fields := data.Get("content.fields")
		if !fields.Exists() {
			return true
		}
		_, poolName := collectionFromType(data.Get("type").String())
		positions = append(positions, Position{
			PositionID:   data.Get("objectId").String(),
			PoolName:     poolName,
			TokenX:       fields.Get("type_x.fields.name").String(),
			TokenY:       fields.Get("type_y.fields.name").String(),
			MarginLevel:  fields.Get("margin_level").Float(),
			LiqPriceLow:  fields.Get("liq_price_low").Float(),
			LiqPriceHigh: fields.Get("liq_price_high").Float(),
			InRange:      fields.Get("in_range").Bool(),
		})
		return true
	})
	return positions, nil
}

// HumanAmount converts a raw balance string to a float using the coin's
// decimals. Unparseable amounts come back as 0.
func HumanAmount(raw string, decimals int) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	for i := 0; i < decimals; i++ {
		v /= 10
	}
	return v
}

func isSystemObject(objType string) bool {
	for _, prefix := range systemObjectPrefixes {
		if strings.HasPrefix(objType, prefix) {
			return true
		}
	}
	return false
}

// collectionFromType derives (address, human name) from a Move type tag
// like 0xabc::cool_cats::CoolCat.
func collectionFromType(objType string) (addr, name string) {
	parts := strings.Split(objType, "::")
	if len(parts) < 2 {
		return "", "Unknown Collection"
	}
	return parts[0], strings.ReplaceAll(parts[1], "_", " ")
}

func nameFromType(objType string) string {
	parts := strings.Split(objType, "::")
	if len(parts) < 3 {
		return ""
	}
	return strings.ReplaceAll(parts[2], "_", " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
