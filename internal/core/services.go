package core

import (
	temporalclient "go.temporal.io/sdk/client"
)

type Services struct {
	Deployment *DeploymentService
	APIKey     *APIKeyService
}

func NewServices(db DB, tc temporalclient.Client) *Services {
	return &Services{
		Deployment: NewDeploymentService(db, tc),
		APIKey:     NewAPIKeyService(db),
	}
}
