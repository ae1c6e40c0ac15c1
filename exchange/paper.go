package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaperExchange 模拟交易所：paper 模式下走完整状态机但不触达真实交易所。
// 买卖单按挂单价立即全额成交，费用按 feePct 计。
type PaperExchange struct {
	feePct float64

	mu     sync.Mutex
	seq    int
	orders map[string]*OrderResult
	prices map[string]float64
}

// NewPaperExchange 创建模拟交易所。
func NewPaperExchange(feePct float64) *PaperExchange {
	return &PaperExchange{
		feePct: feePct,
		orders: make(map[string]*OrderResult),
		prices: make(map[string]float64),
	}
}

// SetPrice 设定符号当前价格（规划/行情查询用）。
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// CreateLimitBuyOrder 立即全额成交。
func (p *PaperExchange) CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (*OrderResult, error) {
	return p.fill(symbol, amount, price)
}

// CreateLimitSellOrder 立即全额成交。
func (p *PaperExchange) CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (*OrderResult, error) {
	return p.fill(symbol, amount, price)
}

func (p *PaperExchange) fill(symbol string, amount, price float64) (*OrderResult, error) {
	if amount <= 0 || price <= 0 {
		return nil, fmt.Errorf("paper order rejected: amount=%.8f price=%.8f", amount, price)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	o := &OrderResult{
		ID:        fmt.Sprintf("paper-%s-%d", symbol, p.seq),
		Status:    "closed",
		Price:     price,
		Amount:    amount,
		Filled:    amount,
		Remaining: 0,
		Average:   price,
		FeeCost:   amount * price * p.feePct,
		Timestamp: time.Now().UTC(),
	}
	cp := *o
	p.orders[o.ID] = &cp
	return o, nil
}

// FetchOrder 返回已登记订单。
func (p *PaperExchange) FetchOrder(ctx context.Context, id, symbol string) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// CancelOrder 模拟盘订单即时成交，取消视为成功的 no-op。
func (p *PaperExchange) CancelOrder(ctx context.Context, id, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[id]; !ok {
		return ErrOrderNotFound
	}
	return nil
}

// FetchTicker 返回设定价格。
func (p *PaperExchange) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("no paper price for %s", symbol)
	}
	return &Ticker{
		Symbol:    symbol,
		Last:      price,
		Bid:       price,
		Ask:       price,
		Timestamp: time.Now().UTC(),
	}, nil
}
