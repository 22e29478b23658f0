package sql

type errNoSuchClient struct {
	error
}

func (*errNoSuchClient) NoSuchClient() {}
