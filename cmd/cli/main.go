package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	defaultServerURL = "http://localhost:8080"
	version          = "0.1.0"
)

type CLIConfig struct {
	ServerURL string
	UserID    string
	Token     string
	Verbose   bool
}

func main() {
	var (
		serverURL = flag.String("server", defaultServerURL, "Backend server URL")
		userID    = flag.String("user", "demo-user", "User ID (sent as X-User-ID when no token)")
		token     = flag.String("token", "", "JWT bearer token")
		verbose   = flag.Bool("v", false, "Verbose output")
		command   = flag.String("cmd", "", "Command to execute")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *command == "" {
		showHelp()
		return
	}

	config := CLIConfig{
		ServerURL: *serverURL,
		UserID:    *userID,
		Token:     *token,
		Verbose:   *verbose,
	}

	args := flag.Args()

	switch *command {
	case "add-item":
		handleAddItem(config, args)
	case "items":
		handleItems(config)
	case "event":
		handleEvent(config, args)
	case "train":
		handleTrain(config)
	case "analyze":
		handleAnalyze(config)
	case "predict":
		handlePredict(config, args)
	case "trend":
		handleTrend(config)
	case "consumption":
		handleConsumption(config, args)
	case "ensemble":
		handleEnsemble(config)
	case "compare":
		handleCompare(config)
	case "anomalies":
		handleAnomalies(config)
	case "health":
		handleHealth(config)
	case "demo":
		handleDemo(config)
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		showHelp()
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf(`MyExpireKits CLI v%s

USAGE:
    expirekits-cli --cmd <command> [options] [args]

COMMANDS:
    add-item    - Add an item to the inventory
    items       - List active inventory
    event       - Record a lifecycle event (consume/expire/discard)
    train       - Retrain the prediction models
    analyze     - Risk-ranked inventory analysis
    predict     - Predict one item's fate
    trend       - 7-day consumption trend forecast
    consumption - Next-likely-consumed items
    ensemble    - Ensemble inventory predictions
    compare     - Model agreement report
    anomalies   - Days with unusual consumption volume
    health      - Check system health
    demo        - Seed a sample inventory with history

INVENTORY:
    expirekits-cli --cmd add-item --name "Milk" --category "Dairy" --expires 2026-09-05T00:00:00Z
    expirekits-cli --cmd items
    expirekits-cli --cmd event --item <item-id> --type consume

ANALYTICS:
    expirekits-cli --cmd train
    expirekits-cli --cmd analyze
    expirekits-cli --cmd predict --item <item-id>
    expirekits-cli --cmd consumption --category Dairy

OPTIONS:
    --server   Server URL (default: http://localhost:8080)
    --user     User ID header value (default: demo-user)
    --token    JWT bearer token (overrides --user)
    --v        Verbose output
    --help     Show this help message

`, version)
}

func handleAddItem(config CLIConfig, args []string) {
	var (
		name     = getArg(args, "--name", "")
		category = getArg(args, "--category", "")
		expires  = getArg(args, "--expires", "")
	)

	if name == "" {
		fmt.Println("Error: --name is required")
		return
	}

	reqData := map[string]string{
		"name":     name,
		"category": category,
	}
	if expires != "" {
		reqData["expiry_date"] = expires
	}

	result, err := doRequest(config, http.MethodPost, "/api/v1/items", reqData, http.StatusCreated)
	if err != nil {
		fmt.Printf("Error adding item: %v\n", err)
		return
	}

	fmt.Printf("✓ Added item: %s (%v)\n", name, result["id"])
	if config.Verbose {
		printJSON(result)
	}
}

func handleItems(config CLIConfig) {
	result, err := doRequest(config, http.MethodGet, "/api/v1/items", nil, http.StatusOK)
	if err != nil {
		fmt.Printf("Error listing items: %v\n", err)
		return
	}

	fmt.Printf("📦 Active Inventory\n")
	fmt.Printf("Items: %v\n", result["count"])
	if config.Verbose {
		printJSON(result)
	}
}

func handleEvent(config CLIConfig, args []string) {
	var (
		itemID    = getArg(args, "--item", "")
		eventType = getArg(args, "--type", "consume")
		date      = getArg(args, "--date", "")
	)

	if itemID == "" {
		fmt.Println("Error: --item is required")
		return
	}

	reqData := map[string]string{
		"item_id":    itemID,
		"event_type": eventType,
	}
	if date != "" {
		reqData["event_date"] = date
	}

	if _, err := doRequest(config, http.MethodPost, "/api/v1/events", reqData, http.StatusCreated); err != nil {
		fmt.Printf("Error recording event: %v\n", err)
		return
	}

	fmt.Printf("✓ Recorded %s event for item %s\n", eventType, itemID)
}

func handleTrain(config CLIConfig) {
	result, err := doRequest(config, http.MethodPost, "/api/v1/analytics/train", map[string]string{}, http.StatusOK)
	if err != nil {
		fmt.Printf("Error training models: %v\n", err)
		return
	}

	fmt.Printf("🧠 Models trained at %v\n", result["trained_at"])
}

func handleAnalyze(config CLIConfig) {
	result, err := doRequest(config, http.MethodGet, "/api/v1/analytics/inventory", nil, http.StatusOK)
	if err != nil {
		fmt.Printf("Error analyzing inventory: %v\n", err)
		return
	}

	fmt.Printf("🔍 Inventory Analysis\n")
	if summary, ok := result["summary"].(map[string]interface{}); ok {
		fmt.Printf("Total Items: %v\n", summary["total_items"])
		fmt.Printf("High Risk: %v, Medium: %v, Low: %v\n",
			summary["high_risk"], summary["medium_risk"], summary["low_risk"])
		fmt.Printf("Overall Waste Risk: %v\n", summary["overall_waste_risk"])
	}
	if config.Verbose {
		printJSON(result)
	}
}

func handlePredict(config CLIConfig, args []string) {
	itemID := getArg(args, "--item", "")
	if itemID == "" {
		fmt.Println("Error: --item is required")
		return
	}

	result, err := doRequest(config, http.MethodGet, "/api/v1/analytics/item/"+itemID, nil, http.StatusOK)
	if err != nil {
		fmt.Printf("Error predicting item: %v\n", err)
		return
	}

	fmt.Printf("🔮 Prediction for %v\n", result["item_name"])
	fmt.Printf("Outcome: %v (confidence %v)\n", result["outcome"], result["confidence"])
	fmt.Printf("Estimated Days: %v\n", result["estimated_days"])
}

func handleTrend(config CLIConfig) {
	result, err := doRequest(config, http.MethodGet, "/api/v1/analytics/trend", nil, http.StatusOK)
	if err != nil {
		fmt.Printf("Error forecasting trend: %v\n", err)
		return
	}

	fmt.Printf("📈 7-Day Consumption Forecast\n")
	fmt.Printf("Daily: %v\n", result["daily"])
	fmt.Printf("Trend: %v (confidence %v)\n", result["trend"], result["confidence"])
	if config.Verbose {
		printJSON(result)
	}
}

func handleConsumption(config CLIConfig, args []string) {
	category := getArg(args, "--category", "")

	path := "/api/v1/analytics/consumption"
	if category != "" {
		path += "?category=" + category
	}

	result, err := doRequest(config, http.MethodGet, path, nil, http.StatusOK)
	if err != nil {
		fmt.Printf("Error predicting consumption: %v\n", err)
		return
	}

	fmt.Printf("🍽  Consumption Prediction\n")
	printJSON(result)
}

func handleEnsemble(config CLIConfig) {
	result, err := doRequest(config, http.MethodGet, "/api/v1/analytics/ensemble", nil, http.StatusOK)
	if err != nil {
		fmt.Printf("Error getting ensemble predictions: %v\n", err)
		return
	}

	fmt.Printf("🌲 Ensemble Predictions\n")
	fmt.Printf("Items: %v\n", result["count"])
	if config.Verbose {
		printJSON(result)
	}
}

func handleCompare(config CLIConfig) {
	result, err := doRequest(config, http.MethodGet, "/api/v1/analytics/compare", nil, http.StatusOK)
	if err != nil {
		fmt.Printf("Error comparing models: %v\n", err)
		return
	}

	fmt.Printf("⚖️  Model Agreement Report\n")
	fmt.Printf("Agreement Rate: %v\n", result["agreement_rate"])
	if config.Verbose {
		printJSON(result)
	}
}

func handleAnomalies(config CLIConfig) {
	result, err := doRequest(config, http.MethodGet, "/api/v1/analytics/anomalies", nil, http.StatusOK)
	if err != nil {
		fmt.Printf("Error detecting anomalies: %v\n", err)
		return
	}

	fmt.Printf("🔎 Consumption Anomalies\n")
	fmt.Printf("Flagged days: %v\n", result["count"])
	if config.Verbose {
		printJSON(result)
	}
}

func handleHealth(config CLIConfig) {
	result, err := doRequest(config, http.MethodGet, "/health", nil, http.StatusOK)
	if err != nil {
		fmt.Printf("❌ Health check failed: %v\n", err)
		return
	}

	fmt.Println("✅ System is healthy")
	if config.Verbose {
		printJSON(result)
	}
}

// handleDemo seeds a small inventory with enough consumption history to train
// the models, then triggers a training run.
func handleDemo(config CLIConfig) {
	type demoItem struct {
		name     string
		category string
		expires  time.Duration
		consumes int
		cycle    time.Duration
	}
	items := []demoItem{
		{"Milk", "Dairy", 7 * 24 * time.Hour, 8, 5 * 24 * time.Hour},
		{"Yogurt", "Dairy", 10 * 24 * time.Hour, 6, 7 * 24 * time.Hour},
		{"Bread", "Bakery", 4 * 24 * time.Hour, 10, 3 * 24 * time.Hour},
		{"Apples", "Produce", 14 * 24 * time.Hour, 4, 10 * 24 * time.Hour},
		{"Chicken", "Meat", 3 * 24 * time.Hour, 7, 6 * 24 * time.Hour},
	}

	fmt.Printf("🚀 Seeding demo inventory for user %s\n", config.UserID)

	for _, d := range items {
		// Completed lifecycles build consumption history.
		for i := d.consumes; i > 0; i-- {
			added := time.Now().Add(-time.Duration(i) * d.cycle)
			result, err := doRequest(config, http.MethodPost, "/api/v1/items", map[string]string{
				"name":     d.name,
				"category": d.category,
			}, http.StatusCreated)
			if err != nil {
				fmt.Printf("Error seeding %s: %v\n", d.name, err)
				return
			}
			itemID, _ := result["id"].(string)

			consumed := added.Add(d.cycle - 12*time.Hour)
			if _, err := doRequest(config, http.MethodPost, "/api/v1/events", map[string]string{
				"item_id":    itemID,
				"event_type": "consume",
				"event_date": consumed.Format(time.RFC3339),
			}, http.StatusCreated); err != nil {
				fmt.Printf("Error seeding consume event: %v\n", err)
				return
			}
		}

		// One live item per product, carrying its expiry date.
		if _, err := doRequest(config, http.MethodPost, "/api/v1/items", map[string]string{
			"name":        d.name,
			"category":    d.category,
			"expiry_date": time.Now().Add(d.expires).Format(time.RFC3339),
		}, http.StatusCreated); err != nil {
			fmt.Printf("Error seeding %s: %v\n", d.name, err)
			return
		}
		fmt.Printf("📦 Seeded %s (%d consumptions)\n", d.name, d.consumes)
	}

	handleTrain(config)

	fmt.Printf("🎉 Demo data ready!\n")
	fmt.Printf("\nTry these commands:\n")
	fmt.Printf("  expirekits-cli --cmd analyze\n")
	fmt.Printf("  expirekits-cli --cmd ensemble\n")
	fmt.Printf("  expirekits-cli --cmd trend\n")
	fmt.Printf("  expirekits-cli --cmd compare\n")
}

func doRequest(config CLIConfig, method, path string, payload interface{}, wantStatus int) (map[string]interface{}, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, config.ServerURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	} else {
		req.Header.Set("X-User-ID", config.UserID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != wantStatus {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(raw))
	}

	var result map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
	}
	return result, nil
}

func printJSON(v interface{}) {
	prettyJSON, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(prettyJSON))
}

func getArg(args []string, flag, defaultValue string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultValue
}
