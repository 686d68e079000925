package collab

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Service names a collaborator reachable by the client.
const (
	ServiceExecutor  = "tool-executor"
	ServiceCollector = "data-collector"
	ServicePlanner   = "planner"
)

// Route tells the client which collaborator serves a tool and on which path.
type Route struct {
	Service string `yaml:"service"`
	Path    string `yaml:"path"`
}

// Routes maps tool names to their collaborator endpoints. Tools without a
// route fall through to the Tool Executor's generic /execute endpoint, whose
// own registry decides whether the tool exists.
type Routes map[string]Route

// DefaultRoutes returns the built-in routing table: observability tools hit
// the Data Collector directly, everything else goes through the executor.
func DefaultRoutes() Routes {
	return Routes{
		"metrics_tool": {Service: ServiceCollector, Path: "/metrics"},
		"logs_tool":    {Service: ServiceCollector, Path: "/logs"},
	}
}

// LoadRoutes reads a routing table from a YAML file of the shape:
//
//	metrics_tool:
//	  service: data-collector
//	  path: /metrics
func LoadRoutes(path string) (Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool routes: %w", err)
	}

	var routes Routes
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("parse tool routes: %w", err)
	}

	for tool, r := range routes {
		switch r.Service {
		case ServiceExecutor, ServiceCollector:
		default:
			return nil, fmt.Errorf("tool %q routes to unknown service %q", tool, r.Service)
		}
	}
	return routes, nil
}
