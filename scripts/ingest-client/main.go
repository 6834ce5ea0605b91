package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"AegisNet/internal/model"
)

var (
	normalFlow = model.FeatureVector{
		model.FeatureBytesIn:  1500,
		model.FeatureBytesOut: 2000,
		model.FeaturePackets:  25,
		model.FeatureDuration: 0.52,
		model.FeatureSrcPort:  443,
		model.FeatureDstPort:  50321,
		model.FeatureProtocol: 6,
	}
	weirdFlow = model.FeatureVector{
		model.FeatureBytesIn:  10000000,
		model.FeatureBytesOut: 5,
		model.FeaturePackets:  1,
		model.FeatureDuration: 0.01,
		model.FeatureSrcPort:  44444,
		model.FeatureDstPort:  1,
		model.FeatureProtocol: 17,
	}
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8000", "Base URL of the inference service")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	for _, c := range []struct {
		label string
		flow  model.FeatureVector
	}{{"normal", normalFlow}, {"weird", weirdFlow}} {
		post(client, *baseURL+"/score", map[string]any{"features": c.flow}, c.label)
	}

	post(client, *baseURL+"/score_bulk", map[string]any{
		"flows": []model.FeatureVector{normalFlow, weirdFlow},
	}, "bulk")

	post(client, *baseURL+"/ingest", model.IngestEvent{
		Meta: model.FlowMeta{
			AgentID:   "ingest-client",
			SrcIP:     "10.0.0.66",
			DstIP:     "10.0.0.1",
			Timestamp: model.EpochSeconds(time.Now()),
		},
		Features: weirdFlow,
	}, "ingest")
}

func post(client *http.Client, url string, body any, label string) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("Failed to encode %s request: %v", label, err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatalf("Failed to post %s request: %v", label, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read %s response: %v", label, err)
	}
	fmt.Printf("%s → %d %s\n", label, resp.StatusCode, bytes.TrimSpace(out))
}
