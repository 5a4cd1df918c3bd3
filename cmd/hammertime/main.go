// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the hammertime demo binary: feed it a base URL and
// a wordlist of paths, and it drives the full request pipeline against the
// target (slow-start concurrency discovery, dynamic timeouts, dead-host
// short-circuiting, soft-404 and catch-all filtering), printing each URL
// that survives every heuristic.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"hammertime/internal/config"
	"hammertime/internal/engine"
	"hammertime/internal/kb"
	"hammertime/internal/rules"
	"hammertime/internal/transport"
)

type runOptions struct {
	configPath  string
	wordlist    string
	proxy       string
	metricsAddr string
	retryCount  int
	concurrency int
}

func main() {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:           "hammertime BASE_URL",
		Short:         "Hammer a host with a wordlist of paths, filtering the noise",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("proxy") {
				cfg.Target.Proxy = opts.proxy
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = opts.metricsAddr
			}
			if cmd.Flags().Changed("retries") {
				cfg.Engine.RetryCount = opts.retryCount
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Concurrency.Static = opts.concurrency
			}
			return run(args[0], opts.wordlist, cfg)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVarP(&opts.wordlist, "wordlist", "w", "-", "file of paths to request, one per line ('-' for stdin)")
	cmd.Flags().StringVar(&opts.proxy, "proxy", "", "proxy URL for all requests")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "address to expose Prometheus metrics on (e.g. :9090)")
	cmd.Flags().IntVar(&opts.retryCount, "retries", 3, "extra attempts per request on retriable failures")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "fixed concurrency (disables slow-start discovery)")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("hammertime: %v", err)
	}
}

func run(baseURL, wordlist string, cfg config.Config) error {
	paths, err := readWordlist(wordlist)
	if err != nil {
		return err
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	reg := prometheus.NewRegistry()
	stats := engine.NewStats(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg)
	}

	var policy engine.ConcurrencyPolicy
	if cfg.Concurrency.Static > 0 {
		policy = engine.NewStaticPolicy(cfg.Concurrency.Static)
	} else {
		policy = engine.NewSlowStartPolicy(
			cfg.Concurrency.Min, cfg.Concurrency.Max, cfg.Concurrency.Initial,
			cfg.Concurrency.CohortSize, cfg.Concurrency.Tolerance)
	}

	httpEngine := transport.NewHTTPEngine(cfg.Timeout.Max.Std())
	retryEngine := engine.NewRetryEngine(httpEngine, stats, policy,
		cfg.Engine.RetryCount, cfg.Engine.RetryDelay.Std(), cfg.Engine.PriorityLaneSize)

	var knowledge kb.KnowledgeBase
	if cfg.KB.RedisAddr != "" {
		knowledge = kb.NewRedisKB(cfg.KB.RedisAddr, cfg.KB.Prefix, 0)
	} else {
		knowledge = kb.New()
	}

	heuristics, err := buildHeuristics(retryEngine, knowledge, cfg)
	if err != nil {
		return err
	}

	ht := engine.New(retryEngine, heuristics, stats, cfg.Engine.SchedulerLimit)
	if cfg.Target.Proxy != "" {
		ht.SetProxy(cfg.Target.Proxy)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range ht.SuccessfulRequests() {
			fmt.Printf("%d  %s\n", entry.Response.Code, entry.Request.URL)
		}
	}()

	var wg sync.WaitGroup
	for _, p := range paths {
		req := engine.NewRequest(baseURL + "/" + strings.TrimPrefix(p, "/"))
		for k, v := range cfg.Target.Headers {
			req.Headers[k] = v
		}
		handle := ht.Submit(req)
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle.Wait(context.Background())
		}()
	}
	wg.Wait()

	if err := ht.Close(); err != nil {
		log.Printf("close: %v", err)
	}
	<-done

	snap := stats.Snapshot()
	log.Printf("requested=%d completed=%d retries=%d elapsed=%s rate=%.1f req/s",
		snap.Requested, snap.Completed, snap.Retries, snap.Duration.Round(1e6), snap.Rate)
	return nil
}

// buildHeuristics wires the full rule pipeline in dependency order: the
// reject-* rules read the flags their detect-* partners set on the same
// event. Catch-all rejection fires at AfterHeaders, before any body work;
// FollowRedirects runs on OnRequestSuccessful, once the retry engine has
// settled the entry.
func buildHeuristics(retryEngine *engine.RetryEngine, knowledge kb.KnowledgeBase, cfg config.Config) (*rules.Heuristics, error) {
	h := rules.New()
	h.SetEngine(retryEngine)
	h.SetKB(knowledge)

	pipeline := []rules.Rule{
		rules.NewDynamicTimeout(cfg.Timeout.SampleSize, cfg.Timeout.Min.Std(), cfg.Timeout.Max.Std()),
		rules.NewDeadHostDetection(cfg.DeadHost.MinRequests, cfg.DeadHost.MaxTimeoutRatio),
	}
	if len(cfg.Rules.Allow) > 0 {
		pipeline = append(pipeline, rules.NewAllowFilter(cfg.Rules.Allow...))
	}
	if len(cfg.Rules.Deny) > 0 {
		pipeline = append(pipeline, rules.NewDenyFilter(cfg.Rules.Deny...))
	}
	if len(cfg.Rules.RejectCodes) > 0 {
		pipeline = append(pipeline, rules.NewRejectStatusCode(cfg.Rules.RejectCodes))
	}
	pipeline = append(pipeline,
		rules.NewIgnoreLargeBody(cfg.Rules.BodyLimit),
		rules.ContentHashSampling{},
		rules.ContentSimhashSampling{},
		rules.ContentSampleSampling{},
	)
	if len(cfg.Rules.WAFMarkers) > 0 {
		pipeline = append(pipeline, rules.NewRejectBlockPage(cfg.Rules.WAFMarkers...))
	}
	pipeline = append(pipeline,
		rules.NewRejectCatchAllRedirect(),
		rules.NewDetectSoft404(cfg.Rules.Soft404Cache),
		rules.RejectSoft404{},
		rules.NewDetectBehaviorChange(0, 0),
		rules.RejectErrorBehavior{},
		rules.NewFollowRedirects(cfg.Rules.MaxRedirects),
	)

	if err := h.AddMultiple(pipeline...); err != nil {
		return nil, err
	}
	return h, nil
}

func readWordlist(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("wordlist: %w", err)
		}
		defer f.Close()
		r = f
	}

	var paths []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths, scanner.Err()
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server: %v", err)
	}
}
