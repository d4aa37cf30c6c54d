package notification

import (
	"errors"
	"fmt"
	"time"

	"signalbot/internal/strategy"
)

var errAlertDropped = errors.New("notify: alert dropped after retries")

// SignalAlert formats an actionable signal for delivery.
func SignalAlert(asset string, sig strategy.Signal, price float64, at time.Time) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s", sig.Kind, asset),
		Message: fmt.Sprintf("Asset: %s\nSignal: %s\nStrength: %.1f%%\nPrice: %.4f\nTime: %s",
			asset, sig.Kind, sig.Strength*100, price, at.UTC().Format("2006-01-02 15:04:05 UTC")),
		At: at,
	}
}

// StartedAlert announces that the trading loop is running.
func StartedAlert(asset, timeframe string, at time.Time) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   "Signal bot started",
		Message: fmt.Sprintf("Watching %s on %s candles", asset, timeframe),
		At:      at,
	}
}

// StoppedAlert announces a normal shutdown.
func StoppedAlert(asset string, at time.Time) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   "Signal bot stopped",
		Message: fmt.Sprintf("Trading loop for %s shut down", asset),
		At:      at,
	}
}

// TickErrorAlert reports a failed tick.
func TickErrorAlert(asset string, err error, at time.Time) Alert {
	return Alert{
		Level:   AlertWarning,
		Title:   "Tick failed",
		Message: fmt.Sprintf("%s: %v", asset, err),
		At:      at,
	}
}

// StartupFailedAlert reports that no model could be loaded or trained.
func StartupFailedAlert(asset string, err error, at time.Time) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   "Startup failed",
		Message: fmt.Sprintf("%s: no usable model: %v", asset, err),
		At:      at,
	}
}

// RetrainAlert reports the outcome of a scheduled or manual retrain.
func RetrainAlert(asset string, accuracy float64, samples int, err error, at time.Time) Alert {
	if err != nil {
		return Alert{
			Level:   AlertWarning,
			Title:   "Retrain failed",
			Message: fmt.Sprintf("%s: %v. Previous model kept.", asset, err),
			At:      at,
		}
	}
	return Alert{
		Level:   AlertInfo,
		Title:   "Model retrained",
		Message: fmt.Sprintf("%s: accuracy %.2f%% on %d samples", asset, accuracy*100, samples),
		At:      at,
	}
}

// ModelMissingAlert announces a synchronous training run at startup.
func ModelMissingAlert(asset string, reason error, at time.Time) Alert {
	msg := fmt.Sprintf("%s: model not found, training", asset)
	if reason != nil {
		msg = fmt.Sprintf("%s: model not loadable (%v), training", asset, reason)
	}
	return Alert{Level: AlertWarning, Title: "Model not found", Message: msg, At: at}
}
