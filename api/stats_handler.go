package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (a *API) stats(c *gin.Context) {
	s, err := a.eng.Stats(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// WorkerResponse pairs a registered worker with its liveness.
type WorkerResponse struct {
	ID            string            `json:"id"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	Active        bool              `json:"active"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

func (a *API) listWorkers(c *gin.Context) {
	ctx := c.Request.Context()
	workers, err := a.eng.ListWorkers(ctx)
	if err != nil {
		a.writeError(c, err)
		return
	}
	active, err := a.eng.GetActiveWorkers(ctx)
	if err != nil {
		a.writeError(c, err)
		return
	}
	live := make(map[string]bool, len(active))
	for _, id := range active {
		live[id] = true
	}

	out := make([]WorkerResponse, 0, len(workers))
	for _, w := range workers {
		out = append(out, WorkerResponse{
			ID:            w.ID,
			Host:          w.Host,
			Port:          w.Port,
			Active:        live[w.ID],
			LastHeartbeat: w.LastHeartbeat,
			Attributes:    w.Attributes,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) queueSize(c *gin.Context) {
	name := c.Param("name")
	n, err := a.eng.QueueSize(c.Request.Context(), name)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "size": n})
}

func (a *API) health(c *gin.Context) {
	if err := a.eng.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
