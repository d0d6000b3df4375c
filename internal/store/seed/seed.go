// Package seed loads users and channels from a YAML or JSON fixture file into
// a store. The HTTP subsystems own these records in production; seeding is
// for development and the memory driver.
package seed

import (
	"context"

	"go-groupchat/internal/models"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Target is implemented by memstore and sqlstore.
type Target interface {
	UpsertUser(ctx context.Context, u *models.User) error
	UpsertChannel(ctx context.Context, ch *models.Channel) error
}

type User struct {
	Id       string
	Username string
	Roles    []string
}

type Channel struct {
	Id      string
	GroupId string `mapstructure:"groupId"`
	Name    string
	Members []string
	Banned  []string
	Admins  []string
}

type Data struct {
	Users    []User
	Channels []Channel
}

// Load reads a fixture file. The format follows the file extension.
func Load(path string) (*Data, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read seed file %s", path)
	}

	var data Data
	if err := v.Unmarshal(&data); err != nil {
		return nil, errors.Wrap(err, "decode seed file")
	}
	for i, u := range data.Users {
		if u.Id == "" {
			return nil, errors.Errorf("users[%d]: id is required", i)
		}
	}
	for i, ch := range data.Channels {
		if ch.Id == "" {
			return nil, errors.Errorf("channels[%d]: id is required", i)
		}
	}
	return &data, nil
}

// Apply upserts every record in d.
func (d *Data) Apply(ctx context.Context, target Target) error {
	for _, u := range d.Users {
		roles := make([]models.Role, 0, len(u.Roles))
		for _, r := range u.Roles {
			roles = append(roles, models.Role(r))
		}
		if err := target.UpsertUser(ctx, &models.User{Id: u.Id, Username: u.Username, Roles: roles}); err != nil {
			return errors.Wrapf(err, "seed user %s", u.Id)
		}
	}
	for _, c := range d.Channels {
		ch := models.NewChannel(c.Id, c.Members, c.Banned, c.Admins)
		ch.GroupId = c.GroupId
		ch.Name = c.Name
		if err := target.UpsertChannel(ctx, ch); err != nil {
			return errors.Wrapf(err, "seed channel %s", c.Id)
		}
	}
	return nil
}
