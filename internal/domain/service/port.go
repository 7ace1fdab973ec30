package service

import "context"

type Repo interface {
	Load(ctx context.Context) ([]Service, error)
	Save(ctx context.Context, services []Service) error
}
