package server

import (
	"net/http"

	"github.com/aurantiaco-sucus/rdb-exp3/api"
	"github.com/labstack/echo/v4"
)

// bind decodes the query (GET) or JSON body (POST) into a new T and
// validates it.
func bind[T any](c echo.Context) (*T, error) {
	req := new(T)
	if err := c.Bind(req); err != nil {
		return nil, err
	}
	if err := c.Validate(req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return req, nil
}

func result(c echo.Context, err error) error {
	if err != nil {
		return c.JSON(statusOf(err), api.Fail(err.Error()))
	}
	return c.JSON(http.StatusOK, api.OK())
}

// ------------------ /user ------------------

func (s *Server) userRegister(c echo.Context) error {
	req, err := bind[api.UserRegisterRequest](c)
	if err != nil {
		return err
	}
	uid, err := s.mgr.Register(c.Request().Context(), req.Username, req.Email, req.Info)
	if err != nil {
		return c.JSON(statusOf(err), api.UserRegisterResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.UserRegisterResponse{Result: api.OK(), UID: uid})
}

func (s *Server) userLookup(c echo.Context) error {
	req, err := bind[api.UserLookupRequest](c)
	if err != nil {
		return err
	}
	uid, err := s.mgr.Lookup(c.Request().Context(), req.Phrase)
	if err != nil {
		return c.JSON(statusOf(err), api.UserLookupResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.UserLookupResponse{Result: api.OK(), UID: uid})
}

func (s *Server) userAlter(c echo.Context) error {
	req, err := bind[api.UserAlterRequest](c)
	if err != nil {
		return err
	}
	return result(c, s.mgr.Alter(c.Request().Context(), req.UID, req.Username, req.Email, req.Info))
}

func (s *Server) userUnregister(c echo.Context) error {
	req, err := bind[api.UserUnregisterRequest](c)
	if err != nil {
		return err
	}
	return result(c, s.mgr.Unregister(c.Request().Context(), req.UID))
}

func (s *Server) userInfo(c echo.Context) error {
	req, err := bind[api.UserInfoRequest](c)
	if err != nil {
		return err
	}
	u, err := s.mgr.Info(c.Request().Context(), req.UID)
	if err != nil {
		return c.JSON(statusOf(err), api.UserInfoResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.UserInfoResponse{
		Result:   api.OK(),
		Username: u.Username,
		Email:    u.Email,
		Info:     u.Info,
	})
}

func (s *Server) userBorrowed(c echo.Context) error {
	req, err := bind[api.UserListRequest](c)
	if err != nil {
		return err
	}
	iids, err := s.mgr.BorrowedList(c.Request().Context(), req.UID)
	return iidList(c, iids, err)
}

func (s *Server) userReserved(c echo.Context) error {
	req, err := bind[api.UserListRequest](c)
	if err != nil {
		return err
	}
	iids, err := s.mgr.ReservedList(c.Request().Context(), req.UID)
	return iidList(c, iids, err)
}

func iidList(c echo.Context, iids []int64, err error) error {
	if err != nil {
		return c.JSON(statusOf(err), api.IIDListResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.IIDListResponse{Result: api.OK(), IIDList: api.JoinIDs(iids)})
}

func (s *Server) userBorrow(c echo.Context) error {
	req, err := bind[api.OccupyRequest](c)
	if err != nil {
		return err
	}
	return result(c, s.mgr.Borrow(c.Request().Context(), req.UID, req.IID))
}

func (s *Server) userReserve(c echo.Context) error {
	req, err := bind[api.OccupyRequest](c)
	if err != nil {
		return err
	}
	return result(c, s.mgr.Reserve(c.Request().Context(), req.UID, req.IID))
}

func (s *Server) userReturn(c echo.Context) error {
	req, err := bind[api.ReturnRequest](c)
	if err != nil {
		return err
	}
	return result(c, s.mgr.Return(c.Request().Context(), req.IID))
}

// ------------------ /book ------------------

func (s *Server) bookSearch(c echo.Context) error {
	req, err := bind[api.BookSearchRequest](c)
	if err != nil {
		return err
	}
	bids, err := s.mgr.Search(c.Request().Context(), req.Phrase)
	if err != nil {
		return c.JSON(statusOf(err), api.BookSearchResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.BookSearchResponse{Result: api.OK(), BIDList: api.JoinIDs(bids)})
}

func (s *Server) bookInfo(c echo.Context) error {
	req, err := bind[api.BookInfoRequest](c)
	if err != nil {
		return err
	}
	b, err := s.mgr.BookInfo(c.Request().Context(), req.BID)
	if err != nil {
		return c.JSON(statusOf(err), api.BookInfoResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.BookInfoResponse{
		Result: api.OK(),
		Title:  b.Title,
		Author: b.Author,
		Info:   b.Info,
	})
}

func (s *Server) bookInstance(c echo.Context) error {
	req, err := bind[api.BookInstanceRequest](c)
	if err != nil {
		return err
	}
	iids, err := s.mgr.InstanceList(c.Request().Context(), req.BID)
	return iidList(c, iids, err)
}

func (s *Server) bookInstanceInfo(c echo.Context) error {
	req, err := bind[api.InstanceInfoRequest](c)
	if err != nil {
		return err
	}
	in, err := s.mgr.InstanceInfo(c.Request().Context(), req.IID)
	if err != nil {
		return c.JSON(statusOf(err), api.InstanceInfoResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.InstanceInfoResponse{Result: api.OK(), BID: in.BID, Status: in.Status})
}

// ------------------ /admin ------------------

func (s *Server) adminAdd(c echo.Context) error {
	req, err := bind[api.BookAddRequest](c)
	if err != nil {
		return err
	}
	bid, err := s.mgr.AddBook(c.Request().Context(), req.Title, req.Author, req.Info)
	if err != nil {
		return c.JSON(statusOf(err), api.BookAddResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.BookAddResponse{Result: api.OK(), BID: bid})
}

func (s *Server) adminRemove(c echo.Context) error {
	req, err := bind[api.BookRemoveRequest](c)
	if err != nil {
		return err
	}
	return result(c, s.mgr.RemoveBook(c.Request().Context(), req.BID))
}

func (s *Server) adminAlter(c echo.Context) error {
	req, err := bind[api.BookAlterRequest](c)
	if err != nil {
		return err
	}
	return result(c, s.mgr.AlterBook(c.Request().Context(), req.BID, req.Title, req.Author, req.Info))
}

func (s *Server) adminAddInstance(c echo.Context) error {
	req, err := bind[api.InstanceAddRequest](c)
	if err != nil {
		return err
	}
	iid, err := s.mgr.AddInstance(c.Request().Context(), req.BID, req.Status)
	if err != nil {
		return c.JSON(statusOf(err), api.InstanceAddResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.InstanceAddResponse{Result: api.OK(), IID: iid})
}

func (s *Server) adminRemoveInstance(c echo.Context) error {
	req, err := bind[api.InstanceRemoveRequest](c)
	if err != nil {
		return err
	}
	return result(c, s.mgr.RemoveInstance(c.Request().Context(), req.IID))
}
