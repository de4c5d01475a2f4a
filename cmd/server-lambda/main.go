package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/rs/zerolog/log"

	"github.com/damfello/bequ-15/app"
	"github.com/damfello/bequ-15/app/config"
	"github.com/damfello/bequ-15/logging"
)

var ginLambda *ginadapter.GinLambda

// init runs once per Lambda container (cold start)
func init() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Style: cfg.Logs.Style, Level: cfg.Logs.Level})

	store, err := app.OpenStore(context.Background(), cfg.DB.DataSourceName())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}

	srv, err := app.NewServer(cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	ginLambda = ginadapter.New(app.NewRouter(srv))
}

// Handler is the Lambda entrypoint for API Gateway REST/HTTP API (proxy integration)
func Handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(Handler)
}
