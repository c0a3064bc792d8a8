package redis

import (
	"fmt"
	"strings"

	rd "github.com/redis/go-redis/v9"
)

type Config struct {
	Addrs     []string
	Namespace string
	PoolSize  int
	Password  string
}

func NewClient(conf Config) rd.UniversalClient {
	return rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		Password: conf.Password,
		PoolSize: conf.PoolSize,
	})
}

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func newBaseDao(client rd.UniversalClient, namespace string) *baseDao {
	return &baseDao{
		redisClient: client,
		namespace:   namespace,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}
