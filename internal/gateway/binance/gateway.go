package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"scalper/internal/gateway/exchange"
	"scalper/internal/logger"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway implements exchange.Gateway against Binance USDⓈ-M futures.
// Every method is a single synchronous REST round trip; no state beyond the
// cached symbol rules is held locally.
type Gateway struct {
	cfg    Config
	client *futures.Client

	rulesMu sync.Mutex
	rules   map[string]exchange.SymbolRules
}

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Gateway{
		cfg:    final,
		client: client,
		rules:  make(map[string]exchange.SymbolRules),
	}, nil
}

func (g *Gateway) Name() string { return "binance-futures" }

// SyncTime aligns the SDK clock offset with the exchange server before the
// first signed request, so signatures are not rejected for recvWindow drift.
func (g *Gateway) SyncTime(ctx context.Context) error {
	if _, err := g.client.NewSetServerTimeService().Do(ctx); err != nil {
		return classifyError("time sync", err)
	}
	return nil
}

func (g *Gateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := g.client.NewListPricesService().Symbol(cleanSymbol(symbol)).Do(ctx)
	if err != nil {
		return 0, classifyError("price fetch", err)
	}
	for _, p := range prices {
		if p == nil {
			continue
		}
		price := parseFloat(p.Price)
		if price > 0 {
			return price, nil
		}
	}
	return 0, fmt.Errorf("no price returned for %s", symbol)
}

func (g *Gateway) GetBalance(ctx context.Context, asset string) (exchange.Balance, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, classifyError("balance fetch", err)
	}
	for _, b := range balances {
		if b == nil || !strings.EqualFold(b.Asset, asset) {
			continue
		}
		return exchange.Balance{
			Asset:     asset,
			Total:     parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
			UpdatedAt: time.Now(),
		}, nil
	}
	return exchange.Balance{Asset: asset, UpdatedAt: time.Now()}, nil
}

func (g *Gateway) GetOpenPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	clean := cleanSymbol(symbol)
	risks, err := g.client.NewGetPositionRiskService().Symbol(clean).Do(ctx)
	if err != nil {
		return nil, classifyError("position fetch", err)
	}
	for _, r := range risks {
		if r == nil || !strings.EqualFold(r.Symbol, clean) {
			continue
		}
		contracts := parseFloat(r.PositionAmt)
		if contracts == 0 {
			continue
		}
		leverage, _ := strconv.Atoi(strings.TrimSpace(r.Leverage))
		pos := exchange.PositionFromContracts(
			clean,
			contracts,
			parseFloat(r.EntryPrice),
			parseFloat(r.MarkPrice),
			parseFloat(r.UnRealizedProfit),
			leverage,
		)
		return &pos, nil
	}
	return nil, nil
}

// PlaceOrder validates the request against the symbol rules and submits it.
// Notional violations are rejected locally; exchange rejections keep their
// code so the caller's retry policy can match on it.
func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be > 0, got %v", req.Quantity)
	}
	rules, err := g.Rules(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if req.Type != exchange.OrderTypeMarket && req.Notional() < rules.MinNotional {
		return nil, fmt.Errorf("%w: %.4f < %.4f", exchange.ErrNotionalTooSmall, req.Notional(), rules.MinNotional)
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = "scalper-" + uuid.NewString()
	}
	svc := g.client.NewCreateOrderService().
		Symbol(cleanSymbol(req.Symbol)).
		Side(orderSide(req.Side)).
		Type(orderType(req.Type)).
		Quantity(formatByStep(req.Quantity, rules.QtyStep)).
		NewClientOrderID(clientID)
	if req.Type != exchange.OrderTypeMarket {
		tif := futures.TimeInForceTypeGTC
		if req.TimeInForce != "" {
			tif = futures.TimeInForceType(req.TimeInForce)
		}
		svc = svc.TimeInForce(tif).Price(formatByStep(req.Price, rules.PriceTick))
	}
	if req.Type == exchange.OrderTypeStop {
		svc = svc.StopPrice(formatByStep(req.TriggerPrice, rules.PriceTick))
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyError("order placement", err)
	}
	logger.Debugf("[binance] order accepted id=%d client=%s %s %s qty=%s",
		resp.OrderID, resp.ClientOrderID, req.Side, req.Type, resp.OrigQuantity)
	return &exchange.OrderAck{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Symbol:   resp.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Price:    parseFloat(resp.Price),
		Quantity: parseFloat(resp.OrigQuantity),
		PlacedAt: time.Now(),
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	if _, err := g.client.NewCancelOrderService().Symbol(cleanSymbol(symbol)).OrderID(id).Do(ctx); err != nil {
		return classifyError("order cancel", err)
	}
	return nil
}

func (g *Gateway) CancelStopOrders(ctx context.Context, symbol string) error {
	clean := cleanSymbol(symbol)
	open, err := g.client.NewListOpenOrdersService().Symbol(clean).Do(ctx)
	if err != nil {
		return classifyError("open order list", err)
	}
	for _, o := range open {
		if o == nil {
			continue
		}
		switch o.Type {
		case futures.OrderTypeStop, futures.OrderTypeStopMarket:
		default:
			continue
		}
		if _, err := g.client.NewCancelOrderService().Symbol(clean).OrderID(o.OrderID).Do(ctx); err != nil {
			logger.Warnf("[binance] cancel stop order %d failed: %v", o.OrderID, err)
			continue
		}
		logger.Infof("[binance] cancelled stop order %d for %s", o.OrderID, clean)
	}
	return nil
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := g.client.NewChangeLeverageService().Symbol(cleanSymbol(symbol)).Leverage(leverage).Do(ctx)
	if err != nil {
		return classifyError("leverage change", err)
	}
	return nil
}

func (g *Gateway) SetMarginMode(ctx context.Context, symbol, mode string) error {
	marginType := futures.MarginTypeIsolated
	if strings.EqualFold(strings.TrimSpace(mode), "cross") {
		marginType = futures.MarginTypeCrossed
	}
	err := g.client.NewChangeMarginTypeService().Symbol(cleanSymbol(symbol)).MarginType(marginType).Do(ctx)
	if err != nil {
		classified := classifyError("margin mode change", err)
		if benignSetupReject(classified) {
			logger.Debugf("[binance] margin mode already %s for %s", mode, symbol)
			return nil
		}
		return classified
	}
	return nil
}

// Rules fetches the lot-size and notional filters once per symbol and
// caches them; filters only change with exchange-wide announcements.
func (g *Gateway) Rules(ctx context.Context, symbol string) (exchange.SymbolRules, error) {
	clean := cleanSymbol(symbol)
	g.rulesMu.Lock()
	cached, ok := g.rules[clean]
	g.rulesMu.Unlock()
	if ok {
		return cached, nil
	}

	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.SymbolRules{}, classifyError("exchange info fetch", err)
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if !strings.EqualFold(s.Symbol, clean) {
			continue
		}
		rules := exchange.SymbolRules{Symbol: clean}
		if lot := s.LotSizeFilter(); lot != nil {
			rules.QtyStep = parseFloat(lot.StepSize)
			rules.MinQty = parseFloat(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			rules.PriceTick = parseFloat(pf.TickSize)
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			rules.MinNotional = parseFloat(mn.Notional)
		}
		g.rulesMu.Lock()
		g.rules[clean] = rules
		g.rulesMu.Unlock()
		return rules, nil
	}
	return exchange.SymbolRules{}, fmt.Errorf("symbol %s not found in exchange info", clean)
}

func orderSide(side exchange.OrderSide) futures.SideType {
	if side == exchange.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func orderType(t exchange.OrderType) futures.OrderType {
	switch t {
	case exchange.OrderTypeMarket:
		return futures.OrderTypeMarket
	case exchange.OrderTypeStop:
		return futures.OrderTypeStop
	default:
		return futures.OrderTypeLimit
	}
}

// cleanSymbol strips the slash form ("DOGE/USDT" -> "DOGEUSDT").
func cleanSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

// formatByStep renders a value with exactly the decimal places the step
// allows, which is what the order endpoints demand.
func formatByStep(value, step float64) string {
	if step <= 0 {
		return decimal.NewFromFloat(value).String()
	}
	exp := decimal.NewFromFloat(step).Exponent()
	places := int32(0)
	if exp < 0 {
		places = -exp
	}
	return decimal.NewFromFloat(value).Round(places).String()
}
