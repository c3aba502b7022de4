// Package api provides the blue/green deployment REST API.
//
//	@title						Cutover API
//	@version					1.0
//	@description				Blue/green deployment orchestration API
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
package api
