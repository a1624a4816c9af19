package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

var (
	validEnvironments  = []string{"development", "staging", "production"}
	validFusionMethods = []string{"bayesian", "consensus", "time_decay", "hybrid"}
	validSizingMethods = []string{"kelly", "fixed", "volatility", "hybrid"}
	validStopMethods   = []string{"atr", "percentage", "volatility", "support_resistance", "trailing"}
)

func oneOf(value string, valid []string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateTrading()...)
	errors = append(errors, c.validateStrategy()...)
	errors = append(errors, c.validateRisk()...)
	errors = append(errors, c.validateExecution()...)
	errors = append(errors, c.validateCollectors()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if !oneOf(c.App.Environment, validEnvironments) {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvironments),
		})
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be json or console", c.Logging.Format),
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid database port %d", c.Database.Port),
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	}

	if c.NATS.StreamName == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.stream_name",
			Message: "JetStream stream name is required",
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		errors = append(errors, ValidationError{
			Field:   "trading.mode",
			Message: fmt.Sprintf("Invalid trading mode '%s'. Must be paper or live", c.Trading.Mode),
		})
	}

	if len(c.Trading.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "trading.symbols",
			Message: "At least one trading symbol is required",
		})
	}

	for _, symbol := range c.Trading.Symbols {
		if !strings.Contains(symbol, "/") {
			errors = append(errors, ValidationError{
				Field:   "trading.symbols",
				Message: fmt.Sprintf("Symbol '%s' must be in BASE/QUOTE format (e.g., BTC/USDT)", symbol),
			})
		}
	}

	return errors
}

func (c *Config) validateStrategy() ValidationErrors {
	var errors ValidationErrors
	s := c.Agents.Strategy

	if !oneOf(s.FusionStrategy, validFusionMethods) {
		errors = append(errors, ValidationError{
			Field:   "agents.strategy.fusion_strategy",
			Message: fmt.Sprintf("Invalid fusion strategy '%s'. Must be one of: %v", s.FusionStrategy, validFusionMethods),
		})
	}

	if s.MinSignals < 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.strategy.min_signals",
			Message: "min_signals must be at least 1",
		})
	}

	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.strategy.min_confidence",
			Message: fmt.Sprintf("min_confidence %.2f must be within [0, 1]", s.MinConfidence),
		})
	}

	if s.SignalTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.strategy.signal_timeout_seconds",
			Message: "signal_timeout_seconds must be positive",
		})
	}

	if s.DecisionIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.strategy.decision_interval_seconds",
			Message: "decision_interval_seconds must be positive",
		})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors
	r := c.Agents.Risk

	if r.AccountBalance <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.risk.account_balance",
			Message: "account_balance must be positive",
		})
	}

	if r.MaxPortfolioRisk <= 0 || r.MaxPortfolioRisk > 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.risk.max_portfolio_risk",
			Message: fmt.Sprintf("max_portfolio_risk %.2f must be within (0, 1]", r.MaxPortfolioRisk),
		})
	}

	if r.MaxPositionRisk <= 0 || r.MaxPositionRisk > 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.risk.max_position_risk",
			Message: fmt.Sprintf("max_position_risk %.2f must be within (0, 1]", r.MaxPositionRisk),
		})
	}

	if !oneOf(r.PositionSizingMethod, validSizingMethods) {
		errors = append(errors, ValidationError{
			Field:   "agents.risk.position_sizing_method",
			Message: fmt.Sprintf("Invalid sizing method '%s'. Must be one of: %v", r.PositionSizingMethod, validSizingMethods),
		})
	}

	if !oneOf(r.StopLossMethod, validStopMethods) {
		errors = append(errors, ValidationError{
			Field:   "agents.risk.stop_loss_method",
			Message: fmt.Sprintf("Invalid stop-loss method '%s'. Must be one of: %v", r.StopLossMethod, validStopMethods),
		})
	}

	if r.MinRRRatio <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.risk.min_rr_ratio",
			Message: "min_rr_ratio must be positive",
		})
	}

	for symbol, price := range r.FallbackPrices {
		if price <= 0 {
			errors = append(errors, ValidationError{
				Field:   "agents.risk.fallback_prices",
				Message: fmt.Sprintf("Fallback price for %s must be positive", symbol),
			})
		}
	}

	return errors
}

func (c *Config) validateExecution() ValidationErrors {
	var errors ValidationErrors
	e := c.Agents.Execution

	if e.ExchangeID == "" {
		errors = append(errors, ValidationError{
			Field:   "agents.execution.exchange_id",
			Message: "exchange_id is required",
		})
	} else if _, ok := c.Exchanges[e.ExchangeID]; !ok && e.ExchangeID != "paper" {
		errors = append(errors, ValidationError{
			Field:   "agents.execution.exchange_id",
			Message: fmt.Sprintf("exchange_id '%s' has no entry under exchanges", e.ExchangeID),
		})
	}

	if e.MaxSlippagePct <= 0 {
		errors = append(errors, ValidationError{
			Field:   "agents.execution.max_slippage_pct",
			Message: "max_slippage_pct must be positive",
		})
	}

	if e.MonitoringIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.execution.monitoring_interval_seconds",
			Message: "monitoring_interval_seconds must be at least 1",
		})
	}

	// Live exchanges need credentials
	if e.ExchangeID != "paper" && c.Trading.Mode == "live" {
		ex := c.Exchanges[e.ExchangeID]
		if ex.APIKey == "" || ex.SecretKey == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s", e.ExchangeID),
				Message: "api_key and secret_key are required for live trading",
			})
		}
	}

	return errors
}

func (c *Config) validateCollectors() ValidationErrors {
	var errors ValidationErrors

	if c.Agents.Collector.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.collector.interval_seconds",
			Message: "interval_seconds must be at least 1",
		})
	}

	if c.Agents.Technical.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "agents.technical.interval_seconds",
			Message: "interval_seconds must be at least 1",
		})
	}

	if c.Agents.Technical.LookbackBars < 20 {
		errors = append(errors, ValidationError{
			Field:   "agents.technical.lookback_bars",
			Message: "lookback_bars must be at least 20 for indicator warm-up",
		})
	}

	return errors
}
