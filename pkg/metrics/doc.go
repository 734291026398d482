/*
Package metrics defines Burrow's Prometheus metrics.

All metrics are registered with the default registry at init and exposed by
Handler on /metrics of both the coordinator and the agent.

Coordinator:

	burrow_nodes_total{status}
	burrow_registrations_total{result}
	burrow_heartbeats_total{result}
	burrow_nodes_marked_offline_total
	burrow_api_requests_total{route,code}
	burrow_api_request_duration_seconds{route}

Agent:

	burrow_agent_registered
	burrow_agent_heartbeats_total{result}
	burrow_agent_commands_total{verb,result}
	burrow_agent_command_duration_seconds{verb}
	burrow_agent_signature_failures_total

Collector refreshes burrow_nodes_total from the node store on an interval.
*/
package metrics
