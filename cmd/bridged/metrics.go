// Copyright 2024 The objectbridge Authors
// This file is part of the objectbridge library.
//
// The objectbridge library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The objectbridge library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the objectbridge library. If not, see
// <http://www.gnu.org/licenses/>.

package main

import "github.com/prometheus/client_golang/prometheus"

// roomMetrics are the counters a running Room reports at -metrics-addr
// /metrics. Left nil when NewRoom is given no metrics (serve with an empty
// -metrics-addr), in which case the Inc/Set calls are no-ops.
type roomMetrics struct {
	joins   prometheus.Counter
	active  prometheus.Gauge
	connect prometheus.Counter
}

func newRoomMetrics() *roomMetrics {
	m := &roomMetrics{
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_room_joins_total",
			Help: "Total number of sessions ever joined to the room.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridged_room_active_sessions",
			Help: "Number of sessions currently joined to the room.",
		}),
		connect: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_connections_total",
			Help: "Total number of websocket connections accepted.",
		}),
	}
	prometheus.MustRegister(m.joins, m.active, m.connect)
	return m
}

func (m *roomMetrics) incJoin() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

func (m *roomMetrics) setActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

func (m *roomMetrics) incConnect() {
	if m == nil {
		return
	}
	m.connect.Inc()
}
