package imaging

import (
	"sync"
	"sync/atomic"
)

// Settings is an immutable snapshot of a Conditioner's configuration.
type Settings struct {
	Strategy Strategy `json:"strategy"`
	Params   Params   `json:"params"`
}

// Conditioner 持有当前策略与参数。参数可在运行时修改，每次 Condition 调用开始时
// 取一次快照，因此修改只影响之后的调用。可并发使用。
type Conditioner struct {
	mu       sync.Mutex // serialises writers
	settings atomic.Pointer[Settings]
}

// NewConditioner validates the initial configuration.
func NewConditioner(strategy Strategy, params Params) (*Conditioner, error) {
	strategy, err := ParseStrategy(string(strategy))
	if err != nil {
		return nil, err
	}
	if err := params.CLAHE.Validate(); err != nil {
		return nil, err
	}
	c := &Conditioner{}
	c.settings.Store(&Settings{Strategy: strategy, Params: params})
	return c, nil
}

// Settings returns the current snapshot.
func (c *Conditioner) Settings() Settings {
	return *c.settings.Load()
}

// Condition runs the configured pipeline over f.
func (c *Conditioner) Condition(f *Frame) (*Frame, Settings, error) {
	s := c.Settings()
	out, err := Condition(f, s.Strategy, s.Params)
	return out, s, err
}

// SetCLAHE swaps the clip limit and tile grid without rebuilding the pipeline.
func (c *Conditioner) SetCLAHE(p CLAHEParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.update(func(s *Settings) { s.Params.CLAHE = p })
	return nil
}

// SetStrategy switches the pipeline used by subsequent calls.
func (c *Conditioner) SetStrategy(strategy Strategy) error {
	parsed, err := ParseStrategy(string(strategy))
	if err != nil {
		return err
	}
	c.update(func(s *Settings) { s.Strategy = parsed })
	return nil
}

func (c *Conditioner) update(mutate func(*Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := *c.settings.Load()
	mutate(&next)
	c.settings.Store(&next)
}
