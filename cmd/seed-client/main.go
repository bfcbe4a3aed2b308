package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/clients"
	"github.com/cytokine/backend/internal/config"
	"github.com/cytokine/backend/internal/database"
	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/store"
)

// parseRegions reads "eu:2,na" into region access entries; a missing limit
// means unlimited.
func parseRegions(v string) map[string]models.RegionAccess {
	regions := make(map[string]models.RegionAccess)
	for _, item := range strings.Split(v, ",") {
		name, limit, _ := strings.Cut(strings.TrimSpace(item), ":")
		if name == "" {
			continue
		}
		n, _ := strconv.Atoi(limit)
		regions[name] = models.RegionAccess{Limit: n}
	}
	return regions
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func main() {
	cfg := config.Load()
	log := logrus.NewEntry(logrus.StandardLogger())

	db, err := database.Connect(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	id := os.Getenv("CLIENT_ID")
	secret := os.Getenv("CLIENT_SECRET")
	if id == "" || secret == "" {
		log.Fatal("CLIENT_ID and CLIENT_SECRET are required")
	}
	name := os.Getenv("CLIENT_NAME")
	if name == "" {
		name = id
	}
	games := os.Getenv("CLIENT_GAMES")
	if games == "" {
		games = models.GameTF2
	}
	limit, _ := strconv.Atoi(os.Getenv("CLIENT_LIMIT"))

	client := &models.Client{
		ID:   id,
		Name: name,
		Access: models.ClientAccess{
			Games:   splitList(games),
			Limit:   limit,
			Regions: parseRegions(os.Getenv("CLIENT_REGIONS")),
		},
	}
	if err := clients.CreateClient(context.Background(), store.NewPostgres(db), client, secret); err != nil {
		log.WithError(err).Fatal("failed to save client")
	}

	log.WithFields(logrus.Fields{
		"client":  client.ID,
		"games":   client.Access.Games,
		"regions": len(client.Access.Regions),
		"limit":   client.Access.Limit,
	}).Info("client created or updated")
}
