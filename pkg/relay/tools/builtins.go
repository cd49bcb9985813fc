package tools

import (
	"context"
	"fmt"
	"time"
)

// NewDefaultRegistry returns a registry preloaded with the stock demo tools.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Declaration{
		Name:        "get_weather",
		Description: "Get current weather information for a specific location",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City name or address (e.g., 'New York', 'London, UK')",
				},
			},
			"required": []string{"location"},
		},
	}, getWeather)

	r.Register(Declaration{
		Name:        "search_database",
		Description: "Search the internal knowledge database for information",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query string",
				},
			},
			"required": []string{"query"},
		},
	}, searchDatabase)

	r.Register(Declaration{
		Name:        "get_current_time",
		Description: "Get the current date and time",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []string{},
		},
	}, getCurrentTime)

	return r
}

// Placeholder implementation until a real weather backend is wired up.
func getWeather(ctx context.Context, args map[string]any) (any, error) {
	location, ok := args["location"].(string)
	if !ok || location == "" {
		return nil, fmt.Errorf("location is required")
	}
	return map[string]any{
		"location":    location,
		"temperature": 72,
		"condition":   "sunny",
		"humidity":    45,
		"unit":        "fahrenheit",
	}, nil
}

func searchDatabase(ctx context.Context, args map[string]any) (any, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("query is required")
	}
	return map[string]any{
		"query": query,
		"results": []map[string]any{
			{"title": "Example Result 1", "snippet": "This is a sample result"},
			{"title": "Example Result 2", "snippet": "Another sample result"},
		},
		"total_results": 2,
	}, nil
}

func getCurrentTime(ctx context.Context, args map[string]any) (any, error) {
	now := time.Now().UTC()
	return map[string]any{
		"datetime": now.Format(time.RFC3339),
		"date":     now.Format("2006-01-02"),
		"time":     now.Format("15:04:05"),
		"timezone": "UTC",
	}, nil
}
