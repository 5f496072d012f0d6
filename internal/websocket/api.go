package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// WebSocketMetricsHandler возвращает обработчик для получения метрик хаба
func WebSocketMetricsHandler(provider MetricsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := provider.GetMetrics()

		// Добавляем время генерации метрик
		metrics["generated_at"] = time.Now().Format(time.RFC3339)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metrics); err != nil {
			log.Printf("Error encoding WebSocket metrics: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

// WebSocketHealthCheckHandler возвращает обработчик для проверки состояния хаба
func WebSocketHealthCheckHandler(provider MetricsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		statusCode := http.StatusOK
		clientCount := 0

		if provider != nil {
			clientCount = provider.ClientCount()
		} else {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"status":       status,
			"client_count": clientCount,
			"timestamp":    time.Now().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.Printf("Error encoding WebSocket health response: %v", err)
		}
	}
}
